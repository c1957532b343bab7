package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tobert/chaosgarden/internal/ipc"
	"github.com/tobert/chaosgarden/internal/query"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9005", "chaosgarden Query channel address")
	kind := flag.String("kind", "", "query vertex kind, e.g. Region, Participant, RunningJob")
	propsJSON := flag.String("props", "{}", "query properties as a JSON object")
	timeout := flag.Duration("timeout", 5*time.Second, "dial and round-trip timeout")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	if *kind == "" {
		fmt.Fprintln(os.Stderr, "error: -kind is required")
		flag.Usage()
		os.Exit(2)
	}

	var props map[string]any
	if err := json.Unmarshal([]byte(*propsJSON), &props); err != nil {
		fmt.Fprintf(os.Stderr, "error: malformed -props: %v\n", err)
		os.Exit(2)
	}

	q := query.Query{Kind: query.Kind(*kind), Props: props}
	payload, err := json.Marshal(q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshaling query: %v\n", err)
		os.Exit(1)
	}

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: dialing %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(*timeout))

	req := ipc.Envelope{
		MessageID:       uuid.New(),
		ProtocolVersion: ipc.ProtocolVersion,
		MessageType:     "query",
		TimestampNanos:  time.Now().UnixNano(),
		Payload:         payload,
	}

	if err := writeFrame(conn, ipc.Encode(req)); err != nil {
		fmt.Fprintf(os.Stderr, "error: sending query: %v\n", err)
		os.Exit(1)
	}

	replyBuf, err := readFrame(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading reply: %v\n", err)
		os.Exit(1)
	}

	reply, err := ipc.Decode(replyBuf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: malformed reply envelope: %v\n", err)
		os.Exit(1)
	}

	if reply.MessageType == "query-error" {
		fmt.Fprintf(os.Stderr, "query error: %s\n", reply.Payload)
		os.Exit(1)
	}

	var result query.Result
	if err := json.Unmarshal(reply.Payload, &result); err != nil {
		fmt.Fprintf(os.Stderr, "error: malformed result payload: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "error: printing result: %v\n", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
