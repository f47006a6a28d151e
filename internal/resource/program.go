package resource

import (
	"fmt"
	"strconv"
	"strings"
)

// Program is the host application's open program database as seen by the
// gateway. Implementations accept at most one open transaction.
type Program interface {
	Name() string
	Lookup(symbolOrAddress string) (Location, bool)
	StartTransaction(description string) (int, error)
	EndTransaction(id int, commit bool) error
	SetPlateComment(loc Location, comment string) error
	RenameLabel(loc Location, name string) error
}

// Location is an address in the program, plus the symbol it was reached
// through when the caller named one.
type Location struct {
	Address uint64 `json:"address"`
	Symbol  string `json:"symbol,omitempty"`
}

// String renders the address the way the host prints it.
func (l Location) String() string {
	return fmt.Sprintf("0x%08x", l.Address)
}

// LocationNotFoundError reports input that names no address or symbol.
type LocationNotFoundError struct {
	Input string
}

func (e *LocationNotFoundError) Error() string {
	return fmt.Sprintf("location %q not found", e.Input)
}

// ParseAddress accepts "0x401000" or bare hex "401000". Zero is not an
// address.
func ParseAddress(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return 0, false
	}
	addr, err := strconv.ParseUint(digits, 16, 64)
	if err != nil || addr == 0 {
		return 0, false
	}
	return addr, true
}
