package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetChecks(t *testing.T) {
	s := Union(TicketView, TicketClaim)

	assert.True(t, s.Has(TicketClaim))
	assert.False(t, s.Has(TicketCloseAny))
	assert.False(t, s.Has(TicketClaim|TicketCloseAny))
	assert.True(t, s.HasAny(TicketCloseAny, TicketView))
	assert.False(t, s.HasAny(TicketCloseAny, RoleManage))
	assert.True(t, s.HasAll(TicketView, TicketClaim))
	assert.False(t, s.HasAll(TicketView, RoleManage))

	assert.Equal(t, TicketView, s.Remove(TicketClaim))
	assert.True(t, s.Add(RoleManage).Has(RoleManage))
}

func TestNamesInBitOrder(t *testing.T) {
	s := Union(TicketCloseAny, TicketView)
	assert.Equal(t, []string{"TICKET_VIEW", "TICKET_CLOSE_ANY"}, s.Names())
	assert.Equal(t, "TICKET_VIEW|TICKET_CLOSE_ANY", s.String())
	assert.Equal(t, "NONE", None.String())
}

func TestParse(t *testing.T) {
	flag, ok := Parse(" ticket_claim ")
	require.True(t, ok)
	assert.Equal(t, TicketClaim, flag)

	_, ok = Parse("TICKET_FLY")
	assert.False(t, ok)
}

func TestParseBits(t *testing.T) {
	bits, err := ParseBits("0x9")
	require.NoError(t, err)
	assert.Equal(t, TicketView|TicketClaim, bits)

	bits, err = ParseBits("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, All, bits)

	_, err = ParseBits("lots")
	assert.Error(t, err)
}

func TestDefaultRoleSets(t *testing.T) {
	assert.Equal(t, All, AdminDefault)
	assert.True(t, SupportDefault.HasAll(TicketClaim, TicketCloseAny))
	assert.False(t, SupportDefault.Has(RoleManage))
	assert.False(t, ViewerDefault.HasAny(TicketClaim, TicketCloseAny, TicketCloseOwn, RoleManage, PanelManage))
}
