// Package permission holds the closed catalog of grantable permission codes.
//
// Codes are persisted verbatim as grant values and compared by exact match,
// so the `<subject>.<verb>` spelling below is a storage format.
package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies one grantable capability, e.g. "tickets.crear".
type Code string

// ErrUnknown is returned when a code outside the catalog is referenced.
var ErrUnknown = errors.New("unknown permission")

// UnknownError carries the offending code and matches ErrUnknown.
type UnknownError struct {
	Code string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown permission %q", e.Code)
}

func (e *UnknownError) Is(target error) bool {
	return target == ErrUnknown
}

// Subjects
const (
	SubjectUsers         = "usuarios"
	SubjectTickets       = "tickets"
	SubjectRoles         = "roles"
	SubjectReports       = "reportes"
	SubjectNotifications = "notificaciones"
)

// Users
const (
	UsersView   Code = "usuarios.ver"
	UsersCreate Code = "usuarios.crear"
	UsersEdit   Code = "usuarios.editar"
	UsersDelete Code = "usuarios.eliminar"
)

// Tickets
const (
	TicketsView   Code = "tickets.ver"
	TicketsCreate Code = "tickets.crear"
	TicketsEdit   Code = "tickets.editar"
	TicketsClose  Code = "tickets.cerrar"
	TicketsDelete Code = "tickets.eliminar"
)

// Roles
const (
	RolesView   Code = "roles.ver"
	RolesCreate Code = "roles.crear"
	RolesEdit   Code = "roles.editar"
	RolesDelete Code = "roles.eliminar"
)

// Reports
const (
	ReportsView   Code = "reportes.ver"
	ReportsExport Code = "reportes.exportar"
)

// Notifications
const (
	NotificationsView   Code = "notificaciones.ver"
	NotificationsCreate Code = "notificaciones.crear"
	NotificationsEdit   Code = "notificaciones.editar"
	NotificationsDelete Code = "notificaciones.eliminar"
)

// Default is the catalog compiled into the binary. Order is the display order
// of the role editing screen.
var Default = NewCatalog(
	UsersView, UsersCreate, UsersEdit, UsersDelete,
	TicketsView, TicketsCreate, TicketsEdit, TicketsClose, TicketsDelete,
	RolesView, RolesCreate, RolesEdit, RolesDelete,
	ReportsView, ReportsExport,
	NotificationsView, NotificationsCreate, NotificationsEdit, NotificationsDelete,
)

// Entry describes a catalogued code.
type Entry struct {
	Code    Code   `json:"code"`
	Subject string `json:"subject"`
	Verb    string `json:"verb"`
}

// Title renders the label shown next to the checkbox, e.g. "TICKETS CREAR".
func (e Entry) Title() string {
	return strings.ToUpper(strings.ReplaceAll(string(e.Code), ".", " "))
}

// Group is the set of catalogued codes sharing a subject.
type Group struct {
	Subject string  `json:"subject"`
	Entries []Entry `json:"entries"`
}

// Catalog is an immutable ordered set of codes. The zero value is empty.
type Catalog struct {
	entries []Entry
	index   map[Code]int
}

// NewCatalog builds a catalog from codes in order. It panics on a malformed or
// duplicated code since catalogs are declared at build time.
func NewCatalog(codes ...Code) Catalog {
	c := Catalog{
		entries: make([]Entry, 0, len(codes)),
		index:   make(map[Code]int, len(codes)),
	}
	for _, code := range codes {
		subject, verb, err := split(string(code))
		if err != nil {
			panic(err)
		}
		if _, dup := c.index[code]; dup {
			panic(fmt.Sprintf("permission: duplicate code %q", code))
		}
		c.index[code] = len(c.entries)
		c.entries = append(c.entries, Entry{Code: code, Subject: subject, Verb: verb})
	}
	return c
}

// With returns a copy of the catalog with extra codes appended.
func (c Catalog) With(codes ...Code) Catalog {
	all := c.Codes()
	return NewCatalog(append(all, codes...)...)
}

// Codes lists every code in catalog order. The slice is a copy.
func (c Catalog) Codes() []Code {
	out := make([]Code, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Code
	}
	return out
}

// Entries lists every entry in catalog order. The slice is a copy.
func (c Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len reports the number of catalogued codes.
func (c Catalog) Len() int {
	return len(c.entries)
}

// Contains reports whether raw is catalogued. Matching is exact.
func (c Catalog) Contains(raw string) bool {
	_, ok := c.index[Code(raw)]
	return ok
}

// Lookup returns the entry for raw.
func (c Catalog) Lookup(raw string) (Entry, bool) {
	i, ok := c.index[Code(raw)]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Validate returns raw as a Code, or an *UnknownError.
func (c Catalog) Validate(raw string) (Code, error) {
	if !c.Contains(raw) {
		return "", &UnknownError{Code: raw}
	}
	return Code(raw), nil
}

// ValidateAll validates every element and returns the deduplicated codes in
// catalog order. The first unknown code aborts validation.
func (c Catalog) ValidateAll(raw []string) ([]Code, error) {
	seen := make(map[Code]struct{}, len(raw))
	for _, r := range raw {
		code, err := c.Validate(r)
		if err != nil {
			return nil, err
		}
		seen[code] = struct{}{}
	}
	out := make([]Code, 0, len(seen))
	for _, e := range c.entries {
		if _, ok := seen[e.Code]; ok {
			out = append(out, e.Code)
		}
	}
	return out, nil
}

// Groups returns entries grouped by subject, in first-appearance order.
func (c Catalog) Groups() []Group {
	var groups []Group
	pos := make(map[string]int)
	for _, e := range c.entries {
		i, ok := pos[e.Subject]
		if !ok {
			i = len(groups)
			pos[e.Subject] = i
			groups = append(groups, Group{Subject: e.Subject})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}

// All lists the default catalog.
func All() []Code { return Default.Codes() }

// Validate checks raw against the default catalog.
func Validate(raw string) (Code, error) { return Default.Validate(raw) }

func split(raw string) (string, string, error) {
	if raw != strings.ToLower(raw) || strings.TrimSpace(raw) != raw {
		return "", "", fmt.Errorf("permission: code %q must be lowercase without spaces", raw)
	}
	subject, verb, ok := strings.Cut(raw, ".")
	if !ok || subject == "" || verb == "" || strings.Contains(verb, ".") {
		return "", "", fmt.Errorf("permission: code %q must be <subject>.<verb>", raw)
	}
	return subject, verb, nil
}
