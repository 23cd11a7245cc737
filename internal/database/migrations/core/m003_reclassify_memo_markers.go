package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
)

// memoMarkers is the closed list of features that used to prefix their
// payment memos with "#<marker> ". Order matters: the first match wins.
var memoMarkers = []string{"withdraw", "events", "lnticket", "paywall", "tpos"}

func init() {
	Registry.MustRegister(migrations.Step{
		Name:        "m003_reclassify_memo_markers",
		Description: "Move legacy #marker memo prefixes into extra.tag",
		Kind:        migrations.KindData,
		Apply:       reclassifyMemoMarkers,
	})
}

type markedPayment struct {
	wallet     string
	checkingID string
	memo       string
}

// reclassifyMemoMarkers strips a known marker from the memo and records it
// as {"tag": marker} in extra. Only untagged rows are considered and each
// update is pinned to (wallet, checking_id, original memo), so a second pass
// changes nothing.
func reclassifyMemoMarkers(ctx context.Context, tx *database.Tx) error {
	rows, err := tx.Query(ctx, `
		SELECT wallet, checking_id, memo
		FROM apipayments
		WHERE memo LIKE '#%' AND extra IS NULL
	`)
	if err != nil {
		return fmt.Errorf("scan payments: %w", err)
	}

	var marked []markedPayment
	for rows.Next() {
		var p markedPayment
		if err := rows.Scan(&p.wallet, &p.checkingID, &p.memo); err != nil {
			_ = rows.Close()
			return err
		}
		marked = append(marked, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, p := range marked {
		tag, memo, ok := splitMemoMarker(p.memo)
		if !ok {
			continue
		}

		extra, err := json.Marshal(map[string]string{"tag": tag})
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE apipayments SET extra = ?, memo = ?
			WHERE wallet = ? AND checking_id = ? AND memo = ? AND extra IS NULL
		`, string(extra), memo, p.wallet, p.checkingID, p.memo); err != nil {
			return fmt.Errorf("rewrite payment %s: %w", p.checkingID, err)
		}
	}

	return nil
}

// splitMemoMarker returns the marker and the remaining memo when memo starts
// with "#<marker> " for a known marker.
func splitMemoMarker(memo string) (tag, rest string, ok bool) {
	if !strings.HasPrefix(memo, "#") {
		return "", memo, false
	}
	for _, marker := range memoMarkers {
		prefix := "#" + marker + " "
		if strings.HasPrefix(memo, prefix) {
			return marker, memo[len(prefix):], true
		}
	}
	return "", memo, false
}
