// Package permissions defines the guild permission bitfield and resolves the
// cumulative permissions a user holds in a guild.
package permissions

import (
	"strconv"
	"strings"
)

// Set is a bitfield of guild capabilities.
type Set uint64

// Named capability flags. Bit positions are persisted; append only.
const (
	TicketView Set = 1 << iota
	TicketViewAll
	TicketCreate
	TicketClaim
	TicketCloseOwn
	TicketCloseAny
	TicketReopen
	TicketDelete
	TicketManageParticipants
	TicketExcludeAutoClose
	PanelView
	PanelManage
	FormView
	FormManage
	RoleView
	RoleManage
	RoleAssign
	MemberView
	AnalyticsView
	TranscriptView
	GuildSettingsView
	GuildSettingsManage
	AuditView
)

// None is the empty set.
const None Set = 0

var catalog = []struct {
	flag Set
	name string
}{
	{TicketView, "TICKET_VIEW"},
	{TicketViewAll, "TICKET_VIEW_ALL"},
	{TicketCreate, "TICKET_CREATE"},
	{TicketClaim, "TICKET_CLAIM"},
	{TicketCloseOwn, "TICKET_CLOSE_OWN"},
	{TicketCloseAny, "TICKET_CLOSE_ANY"},
	{TicketReopen, "TICKET_REOPEN"},
	{TicketDelete, "TICKET_DELETE"},
	{TicketManageParticipants, "TICKET_MANAGE_PARTICIPANTS"},
	{TicketExcludeAutoClose, "TICKET_EXCLUDE_AUTOCLOSE"},
	{PanelView, "PANEL_VIEW"},
	{PanelManage, "PANEL_MANAGE"},
	{FormView, "FORM_VIEW"},
	{FormManage, "FORM_MANAGE"},
	{RoleView, "ROLE_VIEW"},
	{RoleManage, "ROLE_MANAGE"},
	{RoleAssign, "ROLE_ASSIGN"},
	{MemberView, "MEMBER_VIEW"},
	{AnalyticsView, "ANALYTICS_VIEW"},
	{TranscriptView, "TRANSCRIPT_VIEW"},
	{GuildSettingsView, "GUILD_SETTINGS_VIEW"},
	{GuildSettingsManage, "GUILD_SETTINGS_MANAGE"},
	{AuditView, "AUDIT_VIEW"},
}

// All is the full permission set granted to guild owners.
var All = func() Set {
	var s Set
	for _, c := range catalog {
		s |= c.flag
	}
	return s
}()

// Default role bitfields created by guild bootstrap.
var (
	AdminDefault = All

	SupportDefault = Union(
		TicketView, TicketViewAll, TicketCreate, TicketClaim,
		TicketCloseOwn, TicketCloseAny, TicketReopen, TicketManageParticipants,
		PanelView, FormView, MemberView, TranscriptView,
	)

	ViewerDefault = Union(
		TicketView, TicketViewAll, PanelView, FormView,
		RoleView, MemberView, AnalyticsView, GuildSettingsView,
	)
)

// Union ORs the given sets together.
func Union(sets ...Set) Set {
	var out Set
	for _, s := range sets {
		out |= s
	}
	return out
}

// Has reports whether every bit of flag is present in s.
func (s Set) Has(flag Set) bool {
	return s&flag == flag
}

// HasAny reports whether s contains at least one of flags.
func (s Set) HasAny(flags ...Set) bool {
	for _, f := range flags {
		if s.Has(f) {
			return true
		}
	}
	return false
}

// HasAll reports whether s contains every one of flags.
func (s Set) HasAll(flags ...Set) bool {
	for _, f := range flags {
		if !s.Has(f) {
			return false
		}
	}
	return true
}

// Add returns s with flags set.
func (s Set) Add(flags ...Set) Set { return s | Union(flags...) }

// Remove returns s with flags cleared.
func (s Set) Remove(flags ...Set) Set { return s &^ Union(flags...) }

// Names lists the human-readable names of the bits in s, in bit order.
// Unknown bits are ignored.
func (s Set) Names() []string {
	var names []string
	for _, c := range catalog {
		if s&c.flag != 0 {
			names = append(names, c.name)
		}
	}
	return names
}

func (s Set) String() string {
	names := s.Names()
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// Parse resolves a single permission name.
func Parse(name string) (Set, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, c := range catalog {
		if c.name == name {
			return c.flag, true
		}
	}
	return None, false
}

// ParseBits reads a bitfield written as a decimal or 0x-prefixed hex integer.
// Bits outside All are dropped.
func ParseBits(raw string) (Set, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 64)
	if err != nil {
		return None, err
	}
	return Set(v) & All, nil
}
