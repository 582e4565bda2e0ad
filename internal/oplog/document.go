package oplog

import (
	"fmt"
	"strings"
)

// item is one character of a file, live or tombstoned.
type item struct {
	r         rune
	origin    Key   // inserting operation; zero for baseline characters
	deletedBy []Key // operations that removed the character
}

// document is the replay state of one file.
type document struct {
	items []item
}

func newDocument(baseline string) *document {
	d := &document{items: make([]item, 0, len(baseline))}
	for _, r := range baseline {
		d.items = append(d.items, item{r: r})
	}
	return d
}

// Text returns the live characters.
func (d *document) Text() string {
	var b strings.Builder
	for _, it := range d.items {
		if len(it.deletedBy) == 0 {
			b.WriteRune(it.r)
		}
	}
	return b.String()
}

// visibleTo reports whether op's author saw the character as live.
func visibleTo(it item, op Operation) bool {
	if !op.Sees(it.origin) {
		return false
	}
	for _, k := range it.deletedBy {
		if op.Sees(k) {
			return false
		}
	}
	return true
}

// contextLen returns the length of the text op's author saw.
func (d *document) contextLen(op Operation) int {
	n := 0
	for _, it := range d.items {
		if visibleTo(it, op) {
			n++
		}
	}
	return n
}

// check validates op against the text its author saw without mutating.
func (d *document) check(op Operation) error {
	n := d.contextLen(op)
	if op.Kind == KindDelete && n == 0 {
		return ErrNoOp
	}
	if op.Position > n {
		return fmt.Errorf("%w: position %d beyond length %d of %s", ErrOutOfRange, op.Position, n, op.Path)
	}
	if rm := op.removeLen(); op.Position+rm > n {
		return fmt.Errorf("%w: range [%d,%d) beyond length %d of %s", ErrOutOfRange, op.Position, op.Position+rm, n, op.Path)
	}
	return nil
}

// apply integrates op. It fails without mutating when check fails.
func (d *document) apply(op Operation) error {
	if err := d.check(op); err != nil {
		return err
	}
	if rm := op.removeLen(); rm > 0 {
		d.remove(op, op.Position, rm)
	}
	if text := op.insertText(); text != "" {
		d.insert(op, op.Position, text)
	}
	return nil
}

// remove tombstones the rm characters op's author saw starting at pos.
func (d *document) remove(op Operation, pos, rm int) {
	key := op.Key()
	seen := 0
	for i := range d.items {
		if seen >= pos+rm {
			return
		}
		if !visibleTo(d.items[i], op) {
			continue
		}
		if seen >= pos {
			d.items[i].deletedBy = append(d.items[i].deletedBy, key)
		}
		seen++
	}
}

// insert places text after the character at context position pos-1. Any
// characters the author never saw that follow that anchor are skipped, so
// concurrent inserts at the same gap keep their total order.
func (d *document) insert(op Operation, pos int, text string) {
	idx := 0
	if pos > 0 {
		seen := 0
		for i, it := range d.items {
			if !visibleTo(it, op) {
				continue
			}
			seen++
			if seen == pos {
				idx = i + 1
				break
			}
		}
	}
	for idx < len(d.items) && !op.Sees(d.items[idx].origin) {
		idx++
	}

	key := op.Key()
	added := make([]item, 0, len(text))
	for _, r := range text {
		added = append(added, item{r: r, origin: key})
	}
	d.items = append(d.items[:idx], append(added, d.items[idx:]...)...)
}
