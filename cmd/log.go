package cmd

import (
	"fmt"
	"io"

	"log/slog"

	"github.com/ethereum/go-ethereum/log"
)

// Logger builds a logfmt logger writing to w at the given level, the
// way rvgo/cmd/log.go wires go-ethereum/log for this CLI.
func Logger(w io.Writer, lvl slog.Level) log.Logger {
	return log.NewLogger(log.LogfmtHandlerWithLevel(w, lvl))
}

// HexU32 lazily formats a register or address for structured log lines.
type HexU32 uint32

func (v HexU32) String() string { return fmt.Sprintf("%08x", uint32(v)) }

func (v HexU32) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
