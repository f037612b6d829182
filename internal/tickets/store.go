package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"oncall/internal/db"
	"oncall/internal/domain"
)

var ErrNotFound = errors.New("ticket not found")

// Store owns the mock ticketing table. Unlike audit or usage writes, ticket
// creation failures propagate: tickets are a primary deliverable.
type Store struct {
	Store        *db.Store
	DefaultQueue string
	Now          func() time.Time
}

func New(store *db.Store, defaultQueue string) *Store {
	return &Store{Store: store, DefaultQueue: defaultQueue, Now: time.Now}
}

// CreateOptions for a new ticket.
type CreateOptions struct {
	Title           string
	Description     string
	Priority        string
	ResolutionGuide string
}

// Create mints a ticket id and inserts the ticket with status OPEN.
func (s *Store) Create(ctx context.Context, opts CreateOptions) (domain.Ticket, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Ticket{}, fmt.Errorf("ticket title is required")
	}
	priority := strings.ToUpper(opts.Priority)
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(priority) {
		return domain.Ticket{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	t := domain.Ticket{
		TicketID:        "TICKET-" + strings.ToUpper(uuid.NewString()[:8]),
		CreatedAt:       now().UTC().Format(time.RFC3339),
		Title:           opts.Title,
		Description:     opts.Description,
		Status:          domain.TicketOpen,
		Priority:        priority,
		Queue:           s.DefaultQueue,
		ResolutionGuide: opts.ResolutionGuide,
	}
	err := s.Store.RunTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO mock_tickets(ticket_id,created_at,title,description,status,priority,queue,resolution_guide)
VALUES (?,?,?,?,?,?,?,?)`, t.TicketID, t.CreatedAt, t.Title, t.Description, t.Status, t.Priority, nullable(t.Queue), nullable(t.ResolutionGuide))
		return err
	})
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}
	return t, nil
}

// Get returns a ticket by id.
func (s *Store) Get(ctx context.Context, ticketID string) (domain.Ticket, error) {
	var t domain.Ticket
	err := s.Store.RunTx(ctx, true, func(tx *sql.Tx) error {
		var queue, guide sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT ticket_id,created_at,title,description,status,priority,queue,resolution_guide
FROM mock_tickets WHERE ticket_id=?`, ticketID).
			Scan(&t.TicketID, &t.CreatedAt, &t.Title, &t.Description, &t.Status, &t.Priority, &queue, &guide)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		t.Queue = queue.String
		t.ResolutionGuide = guide.String
		return err
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// List returns tickets, newest first.
func (s *Store) List(ctx context.Context) ([]domain.Ticket, error) {
	var res []domain.Ticket
	err := s.Store.RunTx(ctx, true, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT ticket_id,created_at,title,description,status,priority,queue,resolution_guide
FROM mock_tickets ORDER BY created_at DESC, ticket_id DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.Ticket
			var queue, guide sql.NullString
			if err := rows.Scan(&t.TicketID, &t.CreatedAt, &t.Title, &t.Description, &t.Status, &t.Priority, &queue, &guide); err != nil {
				return err
			}
			t.Queue = queue.String
			t.ResolutionGuide = guide.String
			res = append(res, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return res, nil
}

// UpdateStatus is the only mutation tickets support after creation.
func (s *Store) UpdateStatus(ctx context.Context, ticketID, status string) (domain.Ticket, error) {
	status = strings.ToUpper(status)
	if !domain.ValidTicketStatus(status) {
		return domain.Ticket{}, fmt.Errorf("invalid ticket status %q", status)
	}
	err := s.Store.RunTx(ctx, false, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE mock_tickets SET status=? WHERE ticket_id=?`, status, ticketID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return s.Get(ctx, ticketID)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
