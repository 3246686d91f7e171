// Command report prints operator tables straight from the database:
// leaderboards, open reconciliation failures and unsent payout transfers.
//
// Usage: report [users|reconciliation|transfers|all]
package main

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"

	"soltybet/internal/config"

	_ "github.com/lib/pq"
	"github.com/olekukonko/tablewriter"
)

const rowLimit = 20

type section struct {
	title  string
	header []any
	query  string
}

var sections = map[string][]section{
	"users": {
		{
			title:  "Top volume",
			header: []any{"#", "Nickname", "Wallet", "Bets", "Volume", "Gain"},
			query: `SELECT nickname, wallet_address, nb_bet, total_volume, total_gain
				FROM users ORDER BY total_volume DESC LIMIT $1`,
		},
		{
			title:  "Top gain",
			header: []any{"#", "Nickname", "Wallet", "Bets", "Volume", "Gain"},
			query: `SELECT nickname, wallet_address, nb_bet, total_volume, total_gain
				FROM users ORDER BY total_gain DESC LIMIT $1`,
		},
	},
	"reconciliation": {
		{
			title:  "Open reconciliation failures",
			header: []any{"#", "Bet", "Tx", "Declared", "Reason", "Attempts", "Since"},
			query: `SELECT bet_id, tx_signature, declared_amount, reason, attempts, created_at
				FROM reconciliation_failures WHERE status IN ('OPEN', 'EXHAUSTED')
				ORDER BY created_at LIMIT $1`,
		},
	},
	"transfers": {
		{
			title:  "Unsent payout transfers",
			header: []any{"#", "Match", "Wallet", "Amount", "Attempts", "Last error"},
			query: `SELECT match_id, wallet, amount, attempts, COALESCE(last_error, '')
				FROM payout_transfers WHERE status IN ('PENDING', 'FAILED')
				ORDER BY created_at LIMIT $1`,
		},
	},
}

func main() {
	which := "all"
	if len(os.Args) > 1 {
		which = os.Args[1]
	}

	var selected []section
	if which == "all" {
		for _, name := range []string{"users", "reconciliation", "transfers"} {
			selected = append(selected, sections[name]...)
		}
	} else if s, ok := sections[which]; ok {
		selected = s
	} else {
		log.Fatalf("unknown report %q (users, reconciliation, transfers, all)", which)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	for _, s := range selected {
		if err := render(os.Stdout, db, s); err != nil {
			log.Fatalf("%s: %v", s.title, err)
		}
	}
}

func render(out io.Writer, db *sql.DB, s section) error {
	rows, err := db.Query(s.query, rowLimit)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s\n", s.title)
	table := tablewriter.NewWriter(out)
	table.Header(s.header...)

	n := 0
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}

		n++
		line := []any{fmt.Sprintf("%d", n)}
		for _, v := range values {
			line = append(line, v.String)
		}
		table.Append(line...)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if n == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	return table.Render()
}
