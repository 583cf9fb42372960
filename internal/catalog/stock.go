package catalog

// Reserve takes qty units out of stock for the given variant selection.
func (p *Product) Reserve(sels []Selection, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return p.adjust(sels, -qty)
}

// Release puts qty units back. It is Reserve with the opposite sign and runs
// through the same matching code, so the two can never diverge.
func (p *Product) Release(sels []Selection, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return p.adjust(sels, qty)
}

// adjust applies a signed stock delta. Negative deltas (reservations) are
// rejected when they would push any touched counter below zero; positive
// deltas (releases) have no ceiling.
func (p *Product) adjust(sels []Selection, delta int) error {
	if err := p.ValidateSelections(sels); err != nil {
		return err
	}

	if !p.HasVariants() {
		if p.Quantity+delta < 0 {
			return ErrInsufficientStock
		}
		p.Quantity += delta
		return nil
	}

	// Dry run first: a multi-attribute selection must apply all-or-nothing.
	for _, sel := range sels {
		count, err := p.variantCount(sel)
		if err != nil {
			return err
		}
		if count+delta < 0 {
			return ErrInsufficientStock
		}
	}
	for _, sel := range sels {
		p.applyVariantDelta(sel, delta)
	}
	return nil
}

func (p *Product) variantCount(sel Selection) (int, error) {
	for _, as := range p.VariantStock {
		if as.Name != sel.Attribute {
			continue
		}
		for _, os := range as.Options {
			if os.Name == sel.Option {
				return os.Count, nil
			}
		}
	}
	// Schema validated but counters out of sync: surface instead of no-op.
	return 0, ErrUnknownOption
}

func (p *Product) applyVariantDelta(sel Selection, delta int) {
	for i := range p.VariantStock {
		if p.VariantStock[i].Name != sel.Attribute {
			continue
		}
		for j := range p.VariantStock[i].Options {
			if p.VariantStock[i].Options[j].Name == sel.Option {
				p.VariantStock[i].Options[j].Count += delta
				return
			}
		}
	}
}
