package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/genai"
)

// Handler executes one tool call. Results and refusals are strings fed back
// to the reasoning process; an error marks the call failed but never aborts
// the run.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a function declaration with its handler.
type Tool struct {
	Decl *genai.FunctionDeclaration
	Run  Handler
}

// Registry holds the callable tool catalog exposed to the reasoning process.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; duplicate names error.
func (r *Registry) Register(t Tool) error {
	if t.Decl == nil || t.Decl.Name == "" {
		return fmt.Errorf("tool declaration requires a name")
	}
	if t.Run == nil {
		return fmt.Errorf("tool %s has no handler", t.Decl.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Decl.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Decl.Name)
	}
	r.tools[t.Decl.Name] = t
	return nil
}

// MustRegister registers a tool and panics on error; for static catalogs.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the catalog in genai tool form.
func (r *Registry) Declarations() []*genai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(r.tools))
	for _, name := range r.names() {
		decls = append(decls, r.tools[name].Decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs a tool by name.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.Run(ctx, args)
}
