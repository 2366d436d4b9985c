package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

var prefixOffense = []byte("o/") // o/<tokenID(8)><detectedAt(8)> -> Offense JSON

// Offense records a detected double spend.
type Offense struct {
	TokenID    types.TokenID   `json:"token_id"`
	Offender   types.PublicKey `json:"offender"`
	Submitter  types.PublicKey `json:"submitter"`
	DivergeAt  int             `json:"diverge_at"`
	DetectedAt int64           `json:"detected_at"` // unix nanoseconds
}

// RecordOffense persists an offense. It does not touch the token's entry.
func (l *Ledger) RecordOffense(o *Offense) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("offense marshal: %w", err)
	}
	key := append(append([]byte{}, prefixOffense...), o.TokenID[:]...)
	key = binary.BigEndian.AppendUint64(key, uint64(o.DetectedAt))
	if err := l.db.Put(key, data); err != nil {
		return fmt.Errorf("offense put: %w", err)
	}
	return nil
}

// Offenses returns all recorded offenses. Corrupt records are skipped.
func (l *Ledger) Offenses() ([]*Offense, error) {
	var out []*Offense
	err := l.db.ForEach(prefixOffense, func(_, value []byte) error {
		var o Offense
		if err := json.Unmarshal(value, &o); err != nil {
			return nil
		}
		out = append(out, &o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("offense list: %w", err)
	}
	return out, nil
}

// Offenders counts recorded offenses per offending key.
func (l *Ledger) Offenders() (map[types.PublicKey]int, error) {
	list, err := l.Offenses()
	if err != nil {
		return nil, err
	}
	counts := make(map[types.PublicKey]int, len(list))
	for _, o := range list {
		counts[o.Offender]++
	}
	return counts, nil
}
