package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrTransactionOpen    = errors.New("a transaction is already open")
	ErrNoTransaction      = errors.New("no open transaction")
	ErrUnknownTransaction = errors.New("unknown transaction id")
)

// Block is a mapped address range, inclusive of Start and exclusive of End.
type Block struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
}

// TxEvent is delivered to observers when a transaction opens or closes.
type TxEvent struct {
	Kind        string // "start" or "end"
	ID          int
	Description string
	Commit      bool
}

// TxStats counts transaction lifecycle transitions.
type TxStats struct {
	Opened     int
	Closed     int
	Committed  int
	RolledBack int
}

type openTx struct {
	id          int
	description string
	undo        []func()
}

// MemoryProgram is an in-memory Program: a symbol table, plate comments and
// labels, with the host's one-transaction-at-a-time rule and rollback on a
// failed commit.
type MemoryProgram struct {
	mu       sync.Mutex
	name     string
	blocks   []Block
	symbols  map[string]uint64
	labels   map[uint64]string
	comments map[uint64]string
	open     *openTx
	nextTx   int
	stats    TxStats
	history  []string
	observer func(TxEvent)
}

// NewMemoryProgram builds a program with the given symbol table. With no
// blocks every non-zero address is mapped.
func NewMemoryProgram(name string, symbols map[string]uint64, blocks ...Block) *MemoryProgram {
	p := &MemoryProgram{
		name:     name,
		blocks:   blocks,
		symbols:  make(map[string]uint64, len(symbols)),
		labels:   make(map[uint64]string, len(symbols)),
		comments: make(map[uint64]string),
		nextTx:   1,
	}
	for sym, addr := range symbols {
		p.symbols[sym] = addr
		p.labels[addr] = sym
	}
	return p
}

func (p *MemoryProgram) Name() string {
	return p.name
}

// Observe installs fn as the transaction observer. fn runs under the
// program lock and must not call back into the program.
func (p *MemoryProgram) Observe(fn func(TxEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

// Lookup resolves a symbol first, then a hex address inside a mapped block.
func (p *MemoryProgram) Lookup(symbolOrAddress string) (Location, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := strings.TrimSpace(symbolOrAddress)
	if addr, ok := p.symbols[key]; ok {
		return Location{Address: addr, Symbol: key}, true
	}
	addr, ok := ParseAddress(key)
	if !ok || !p.mapped(addr) {
		return Location{}, false
	}
	return Location{Address: addr, Symbol: p.labels[addr]}, true
}

func (p *MemoryProgram) mapped(addr uint64) bool {
	if len(p.blocks) == 0 {
		return true
	}
	for _, b := range p.blocks {
		if addr >= b.Start && addr < b.End {
			return true
		}
	}
	return false
}

func (p *MemoryProgram) StartTransaction(description string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open != nil {
		return 0, fmt.Errorf("%w: %q", ErrTransactionOpen, p.open.description)
	}
	id := p.nextTx
	p.nextTx++
	p.open = &openTx{id: id, description: description}
	p.stats.Opened++
	p.history = append(p.history, description)
	p.notify(TxEvent{Kind: "start", ID: id, Description: description})
	return id, nil
}

func (p *MemoryProgram) EndTransaction(id int, commit bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open == nil {
		return ErrNoTransaction
	}
	if p.open.id != id {
		return fmt.Errorf("%w: %d", ErrUnknownTransaction, id)
	}
	tx := p.open
	p.open = nil

	if commit {
		p.stats.Committed++
	} else {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		p.stats.RolledBack++
	}
	p.stats.Closed++
	p.notify(TxEvent{Kind: "end", ID: id, Description: tx.description, Commit: commit})
	return nil
}

func (p *MemoryProgram) SetPlateComment(loc Location, comment string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open == nil {
		return ErrNoTransaction
	}
	prev, had := p.comments[loc.Address]
	p.open.undo = append(p.open.undo, func() {
		if had {
			p.comments[loc.Address] = prev
		} else {
			delete(p.comments, loc.Address)
		}
	})
	p.comments[loc.Address] = comment
	return nil
}

func (p *MemoryProgram) RenameLabel(loc Location, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open == nil {
		return ErrNoTransaction
	}
	if owner, taken := p.symbols[name]; taken && owner != loc.Address {
		return fmt.Errorf("symbol %q already names 0x%08x", name, owner)
	}

	old, hadOld := p.labels[loc.Address]
	p.open.undo = append(p.open.undo, func() {
		delete(p.symbols, name)
		if hadOld {
			p.labels[loc.Address] = old
			p.symbols[old] = loc.Address
		} else {
			delete(p.labels, loc.Address)
		}
	})
	if hadOld {
		delete(p.symbols, old)
	}
	p.labels[loc.Address] = name
	p.symbols[name] = loc.Address
	return nil
}

// Comment returns the plate comment at addr.
func (p *MemoryProgram) Comment(addr uint64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.comments[addr]
	return c, ok
}

// Label returns the symbol naming addr.
func (p *MemoryProgram) Label(addr uint64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.labels[addr]
	return l, ok
}

// Symbols lists the symbol table sorted by name.
func (p *MemoryProgram) Symbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Stats returns a copy of the transaction counters.
func (p *MemoryProgram) Stats() TxStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// History returns the descriptions of every transaction opened so far.
func (p *MemoryProgram) History() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.history...)
}

func (p *MemoryProgram) notify(ev TxEvent) {
	if p.observer != nil {
		p.observer(ev)
	}
}
