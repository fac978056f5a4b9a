package store

import (
	"context"
	"fmt"
	"strings"
)

// Contact is one directory row. Email, phone and address are optional.
type Contact struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// AddContact inserts a new contact.
func (s *Store) AddContact(ctx context.Context, c Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (name, email, phone, address)
		VALUES (?, ?, ?, ?)`,
		c.Name, c.Email, c.Phone, c.Address)
	if err != nil {
		return fmt.Errorf("store: add contact %q: %w", c.Name, err)
	}
	return nil
}

// EditContact updates the contact with the given name. Only non-empty
// fields overwrite; empty fields keep their stored value, so "add a phone
// number to John" does not wipe John's address.
func (s *Store) EditContact(ctx context.Context, c Contact) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET
			email   = CASE WHEN ? != '' THEN ? ELSE email END,
			phone   = CASE WHEN ? != '' THEN ? ELSE phone END,
			address = CASE WHEN ? != '' THEN ? ELSE address END,
			updated_at = CURRENT_TIMESTAMP
		WHERE name = ?`,
		c.Email, c.Email, c.Phone, c.Phone, c.Address, c.Address, c.Name)
	if err != nil {
		return fmt.Errorf("store: edit contact %q: %w", c.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: edit contact %q: %w", c.Name, ErrNotFound)
	}
	return nil
}

// DeleteContact removes all contact rows matching the given name.
func (s *Store) DeleteContact(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM contacts WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("store: delete contact %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: delete contact %q: %w", name, ErrNotFound)
	}
	return nil
}

// ListContacts returns contacts matching query by name or email
// (case-insensitive substring). An empty query returns everything.
func (s *Store) ListContacts(ctx context.Context, query string) ([]Contact, error) {
	q := `SELECT name, email, phone, address FROM contacts`
	args := []any{}
	if query != "" {
		q += ` WHERE lower(name) LIKE ? OR lower(email) LIKE ?`
		like := "%" + strings.ToLower(query) + "%"
		args = append(args, like, like)
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Name, &c.Email, &c.Phone, &c.Address); err != nil {
			return nil, fmt.Errorf("store: scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// AddressesFor returns the distinct non-empty addresses on file for a
// customer, matched by name or email. Several addresses are possible when
// the directory holds multiple rows for the same person.
func (s *Store) AddressesFor(ctx context.Context, nameOrEmail string) ([]string, error) {
	contacts, err := s.ListContacts(ctx, nameOrEmail)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var addresses []string
	for _, c := range contacts {
		if c.Address != "" && !seen[c.Address] {
			seen[c.Address] = true
			addresses = append(addresses, c.Address)
		}
	}
	return addresses, nil
}

// UpsertContact records (or refreshes) a customer after an approved
// quotation: inserts when unknown, otherwise fills in missing fields.
func (s *Store) UpsertContact(ctx context.Context, c Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (name, email, phone, address)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name, email) DO UPDATE SET
			phone   = CASE WHEN excluded.phone   != '' THEN excluded.phone   ELSE phone   END,
			address = CASE WHEN excluded.address != '' THEN excluded.address ELSE address END,
			updated_at = CURRENT_TIMESTAMP`,
		c.Name, c.Email, c.Phone, c.Address)
	if err != nil {
		return fmt.Errorf("store: upsert contact %q: %w", c.Name, err)
	}
	return nil
}
