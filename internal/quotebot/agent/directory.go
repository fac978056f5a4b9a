package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
	"github.com/leylacuisine/quotebot/internal/quotebot/store"
)

const directoryInstructions = `You manage the contact directory of a catering business.
Translate the user's request into a directory operation payload:
{"op": "add" | "edit" | "delete" | "list",
 "contact": {"name": "...", "email": "...", "phone": "...", "address": "..."},
 "query": "..."}
When asked to add a number, email, or address to an existing contact, use
"edit" with only the fields being changed. When adding a new contact and
phone, email or address were not given, ask for them once; if the user
declines, proceed with what you have. "list" takes an optional query.`

// DirectoryOp is the schema-validated payload for contact operations.
type DirectoryOp struct {
	Op      string `json:"op"`
	Contact struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Phone   string `json:"phone"`
		Address string `json:"address"`
	} `json:"contact"`
	Query string `json:"query"`
}

// DirectoryHandler manages contacts.
type DirectoryHandler struct {
	provider  nlp.Provider
	directory DirectoryStore
}

// NewDirectory returns the directory handler.
func NewDirectory(provider nlp.Provider, directory DirectoryStore) *DirectoryHandler {
	return &DirectoryHandler{provider: provider, directory: directory}
}

func (h *DirectoryHandler) Name() string { return NameDirectory }

func (h *DirectoryHandler) Surface() string {
	return "adding, editing, deleting or listing customer contacts (names, emails, phones, addresses)"
}

func (h *DirectoryHandler) Handle(ctx context.Context, text string, history []nlp.HistoryMessage) (*Outcome, error) {
	resp, err := h.provider.Generate(ctx, nlp.GenerateRequest{
		Instructions:   directoryInstructions,
		Message:        text,
		History:        history,
		Schema:         nlp.SchemaDirectoryOp,
		HandoffTargets: []string{NameTriage, NameOrder, NameCatalog, NameScheduling},
	})
	if err != nil {
		return clarifyOutcome(NameDirectory, err)
	}

	switch {
	case resp.Handoff != "":
		return &Outcome{Handler: NameDirectory, Handoff: resp.Handoff}, nil
	case len(resp.Payload) > 0:
		var op DirectoryOp
		if err := json.Unmarshal(resp.Payload, &op); err != nil {
			return clarifyOutcome(NameDirectory, fmt.Errorf("%w: decode directory op: %v", nlp.ErrMalformedOutput, err))
		}
		return h.execute(ctx, op), nil
	default:
		return &Outcome{Handler: NameDirectory, Text: resp.Text, AwaitingInput: resp.Followup}, nil
	}
}

func (h *DirectoryHandler) execute(ctx context.Context, op DirectoryOp) *Outcome {
	out := &Outcome{Handler: NameDirectory}
	c := store.Contact{
		Name:    op.Contact.Name,
		Email:   op.Contact.Email,
		Phone:   op.Contact.Phone,
		Address: op.Contact.Address,
	}

	switch op.Op {
	case "add":
		if err := h.directory.AddContact(ctx, c); err != nil {
			out.Text = fmt.Sprintf("Couldn't add contact %q: %v", c.Name, err)
			return out
		}
		out.Text = fmt.Sprintf("Contact %s added successfully.", c.Name)
	case "edit":
		if err := h.directory.EditContact(ctx, c); err != nil {
			out.Text = fmt.Sprintf("Couldn't update contact %q: %v", c.Name, err)
			return out
		}
		out.Text = fmt.Sprintf("Contact %s updated.", c.Name)
	case "delete":
		if err := h.directory.DeleteContact(ctx, c.Name); err != nil {
			out.Text = fmt.Sprintf("Couldn't delete contact %q: %v", c.Name, err)
			return out
		}
		out.Text = fmt.Sprintf("Contact %s deleted.", c.Name)
	case "list":
		contacts, err := h.directory.ListContacts(ctx, op.Query)
		if err != nil {
			out.Text = fmt.Sprintf("Couldn't load contacts: %v", err)
			return out
		}
		out.Text = formatContacts(contacts)
	default:
		out.Text = fmt.Sprintf("Unsupported contact operation %q.", op.Op)
	}
	return out
}

func formatContacts(contacts []store.Contact) string {
	if len(contacts) == 0 {
		return "No matching contacts."
	}
	var b strings.Builder
	b.WriteString("Contacts:\n")
	for _, c := range contacts {
		fmt.Fprintf(&b, "• %s", c.Name)
		if c.Email != "" {
			fmt.Fprintf(&b, " <%s>", c.Email)
		}
		if c.Phone != "" {
			fmt.Fprintf(&b, ", %s", c.Phone)
		}
		if c.Address != "" {
			fmt.Fprintf(&b, ", %s", c.Address)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
