// Command audioclient streams a local WAV file to the realtime
// transcription endpoint and prints the events the server sends back.
//
// Usage:
//
//	audioclient -url ws://localhost:8000/v1/sr/realtime -file sample.wav
package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

const (
	frameBytes    = 3200 // 100ms of PCM 16kHz 16-bit mono
	frameInterval = 100 * time.Millisecond
)

func main() {
	url := flag.String("url", "ws://localhost:8000/v1/sr/realtime", "realtime endpoint")
	file := flag.String("file", "", "WAV file to stream (PCM 16-bit mono)")
	realtime := flag.Bool("realtime", true, "pace frames at playback speed")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		flag.Usage()
		os.Exit(2)
	}

	pcm, sampleRate, err := readWAV(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
		os.Exit(1)
	}
	fmt.Printf("streaming %d bytes of PCM (%d Hz) to %s\n", len(pcm), sampleRate, *url)

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan struct{})
	go printEvents(conn, done)

	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			fmt.Fprintf(os.Stderr, "send frame: %v\n", err)
			os.Exit(1)
		}
		if *realtime {
			time.Sleep(frameInterval)
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"stop"}`)); err != nil {
		fmt.Fprintf(os.Stderr, "send stop: %v\n", err)
		os.Exit(1)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for the server to close")
	}
}

func printEvents(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Text      string `json:"text"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			fmt.Printf("<- unparseable: %s\n", data)
			continue
		}
		switch ev.Type {
		case "partial", "final":
			fmt.Printf("<- %s: %s\n", ev.Type, ev.Text)
		case "error":
			fmt.Printf("<- error: %s\n", ev.Message)
		default:
			fmt.Printf("<- %s (session %s)\n", ev.Type, ev.SessionID)
		}
	}
}

// readWAV extracts the PCM payload of a 16-bit mono WAV file.
func readWAV(path string) ([]byte, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	// Walk the chunk list for fmt and data.
	var sampleRate int
	var pcm []byte
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, 0, errors.New("truncated chunk")
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("need PCM 16-bit mono, got format=%d channels=%d bits=%d",
					format, channels, bits)
			}
		case "data":
			pcm = data[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word aligned
		}
	}
	if sampleRate == 0 || pcm == nil {
		return nil, 0, errors.New("missing fmt or data chunk")
	}
	return pcm, sampleRate, nil
}
