package episode

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Tpanarchist/omen/internal/packet"
)

// WriteJSONL streams packets as line-delimited JSON. Order is significant:
// readers must process lines in order.
func WriteJSONL(w io.Writer, packets []*packet.Packet) error {
	enc := bufio.NewWriter(w)
	for _, p := range packets {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode packet %s: %w", p.Header.PacketID, err)
		}
		if _, err := enc.Write(data); err != nil {
			return err
		}
		if err := enc.WriteByte('\n'); err != nil {
			return err
		}
	}
	return enc.Flush()
}

// ReadJSONL parses a line-delimited packet stream, preserving order. Blank
// lines are skipped; any malformed line fails the whole read with its line
// number.
func ReadJSONL(r io.Reader) ([]*packet.Packet, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var packets []*packet.Packet
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		p, err := packet.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		packets = append(packets, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return packets, nil
}

// ReadJSONLFile reads an episode log from disk.
func ReadJSONLFile(path string) ([]*packet.Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open episode log %s: %w", path, err)
	}
	defer f.Close()
	return ReadJSONL(f)
}

// WriteJSONLFile writes an episode log to disk.
func WriteJSONLFile(path string, packets []*packet.Packet) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create episode log %s: %w", path, err)
	}
	if err := WriteJSONL(f, packets); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
