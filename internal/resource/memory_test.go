package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProgram_OneOpenTransaction(t *testing.T) {
	prog := newTestProgram()

	id, err := prog.StartTransaction("first")
	require.NoError(t, err)

	_, err = prog.StartTransaction("second")
	require.ErrorIs(t, err, ErrTransactionOpen)

	require.ErrorIs(t, prog.EndTransaction(id+1, true), ErrUnknownTransaction)
	require.NoError(t, prog.EndTransaction(id, true))
	require.ErrorIs(t, prog.EndTransaction(id, true), ErrNoTransaction)
}

func TestMemoryProgram_MutationOutsideTransaction(t *testing.T) {
	prog := newTestProgram()
	loc, _ := prog.Lookup("main")

	assert.ErrorIs(t, prog.SetPlateComment(loc, "x"), ErrNoTransaction)
	assert.ErrorIs(t, prog.RenameLabel(loc, "start"), ErrNoTransaction)
}

func TestMemoryProgram_RenameRollback(t *testing.T) {
	prog := newTestProgram()
	loc, _ := prog.Lookup("main")

	id, err := prog.StartTransaction("rename")
	require.NoError(t, err)
	require.NoError(t, prog.RenameLabel(loc, "entry"))
	require.NoError(t, prog.EndTransaction(id, false))

	label, ok := prog.Label(loc.Address)
	require.True(t, ok)
	assert.Equal(t, "main", label)
	assert.Equal(t, []string{"check_pass", "main"}, prog.Symbols())
}

func TestMemoryProgram_RenameRejectsTakenName(t *testing.T) {
	prog := newTestProgram()
	loc, _ := prog.Lookup("main")

	id, err := prog.StartTransaction("rename")
	require.NoError(t, err)
	assert.Error(t, prog.RenameLabel(loc, "check_pass"))
	require.NoError(t, prog.EndTransaction(id, false))
}

func TestMemoryProgram_ObserverSeesStartAndEnd(t *testing.T) {
	prog := newTestProgram()
	var events []TxEvent
	prog.Observe(func(ev TxEvent) { events = append(events, ev) })

	id, err := prog.StartTransaction("observed")
	require.NoError(t, err)
	require.NoError(t, prog.EndTransaction(id, true))

	require.Len(t, events, 2)
	assert.Equal(t, "start", events[0].Kind)
	assert.Equal(t, TxEvent{Kind: "end", ID: id, Description: "observed", Commit: true}, events[1])
}
