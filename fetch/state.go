package fetch

// transferState is owned by the goroutine running one download.
type transferState struct {
	rng        Range
	resolved   bool
	downloaded int64

	redirects  int // remaining
	reconnects int // remaining
}

func newTransferState(rng Range, maxRedirects, maxReconnects int) *transferState {
	return &transferState{rng: rng, redirects: maxRedirects, reconnects: maxReconnects}
}

// resolve fixes the range end from the first successful response.
func (t *transferState) resolve(declared int64) {
	if t.resolved {
		return
	}
	t.rng = ResolveEnd(t.rng.Start, declared, t.rng)
	t.resolved = true
}

func (t *transferState) expectedTotal() int64 { return t.rng.Total() }

func (t *transferState) offset() int64 { return t.rng.Start + t.downloaded }

// wantsRange reports whether the next request must carry the range window.
func (t *transferState) wantsRange() bool {
	return t.downloaded > 0 || !t.rng.IsDefault()
}

// complete decides whether the body that just ended finished the transfer.
// Without a known total, only a clean EOF counts.
func (t *transferState) complete(cleanEOF bool) bool {
	if total := t.expectedTotal(); total >= 0 {
		return t.downloaded >= total
	}
	return cleanEOF
}

// spendRedirect consumes one redirect and reports whether any remain.
func (t *transferState) spendRedirect() bool {
	t.redirects--
	return t.redirects > 0
}

// spendReconnect consumes one reconnect and reports whether any remain.
func (t *transferState) spendReconnect() bool {
	t.reconnects--
	return t.reconnects > 0
}
