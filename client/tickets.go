package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmcleod/deskd"
)

// Priority is the ticket priority scale.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Status is the ticket lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

// Ticket is a ticket resource as returned by the API. The client shuttles
// these through the authenticated pipeline without validating business
// rules; the server owns those.
type Ticket struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	CreatedBy   int64     `json:"created_by"`
	AssignedTo  *int64    `json:"assigned_to,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewTicket is the creation payload.
type NewTicket struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

// TicketUpdate is a partial update; nil fields are left unchanged.
type TicketUpdate struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	AssignedTo  *int64    `json:"assigned_to,omitempty"`
}

// ListTickets returns the tickets visible to the current user.
func (c *Client) ListTickets(ctx context.Context) ([]Ticket, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "tickets/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, http.StatusOK, "listing tickets"); err != nil {
		return nil, err
	}
	var tickets []Ticket
	if err := decodeJSON(resp, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// GetTicket fetches a single ticket by ID.
func (c *Client) GetTicket(ctx context.Context, id int64) (Ticket, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("tickets/%d/", id), nil)
	if err != nil {
		return Ticket{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return Ticket{}, err
	}
	if err := checkStatus(resp, http.StatusOK, "fetching ticket"); err != nil {
		return Ticket{}, err
	}
	var t Ticket
	if err := decodeJSON(resp, &t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// CreateTicket creates a new ticket owned by the current user.
func (c *Client) CreateTicket(ctx context.Context, ticket NewTicket) (Ticket, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "tickets/", ticket)
	if err != nil {
		return Ticket{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return Ticket{}, err
	}
	if err := checkStatus(resp, http.StatusCreated, "creating ticket"); err != nil {
		return Ticket{}, err
	}
	var t Ticket
	if err := decodeJSON(resp, &t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// UpdateTicket applies a partial update to a ticket.
func (c *Client) UpdateTicket(ctx context.Context, id int64, update TicketUpdate) (Ticket, error) {
	req, err := c.newRequest(ctx, http.MethodPatch, fmt.Sprintf("tickets/%d/", id), update)
	if err != nil {
		return Ticket{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return Ticket{}, err
	}
	if err := checkStatus(resp, http.StatusOK, "updating ticket"); err != nil {
		return Ticket{}, err
	}
	var t Ticket
	if err := decodeJSON(resp, &t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// DeleteTicket removes a ticket.
func (c *Client) DeleteTicket(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("tickets/%d/", id), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError(resp, "deleting ticket")
	}
	return nil
}

// checkStatus validates the expected status, converting 401 to
// ErrUnauthorized and anything else to a wrapped status error. On failure
// the body is consumed.
func checkStatus(resp *http.Response, want int, op string) error {
	if resp.StatusCode == want {
		return nil
	}
	defer drain(resp)
	return statusError(resp, op)
}

func statusError(resp *http.Response, op string) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, deskd.ErrUnauthorized)
	}
	return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
}
