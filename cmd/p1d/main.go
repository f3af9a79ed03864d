// Command p1d connects to a P1 smart meter via serial port and makes
// the latest decoded reading available over HTTP: GET / returns the
// current record.Reading as JSON, GET /ws pushes each new reading to
// connected websocket clients as it arrives.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/tarm/serial"

	"github.com/p1decoder/p1core/pkg/record"
	"github.com/p1decoder/p1core/pkg/stream"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		serialDev string
		baud      int
		host      string
		keyHex    string
		aadHex    string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:           "p1d",
		Short:         "Serve decoded P1 smart meter readings over HTTP and websocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogger(logLevel)

			key, aad, err := decodeKeyAndAAD(keyHex, aadHex)
			if err != nil {
				return err
			}

			port, err := serial.OpenPort(&serial.Config{
				Name:     serialDev,
				Baud:     baud,
				Parity:   serial.ParityNone,
				StopBits: serial.Stop1,
			})
			if err != nil {
				return fmt.Errorf("failed to open serial port: %w", err)
			}

			d := newDaemon(key, aad)
			go d.readLoop(port)

			slog.Info("listening", "host", host)
			return http.ListenAndServe(host, d.handler())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&serialDev, "serial", "/dev/P1", "path to serial port")
	flags.IntVar(&baud, "baud", 115200, "serial baud rate")
	flags.StringVar(&host, "host", "127.0.0.1:1121", "host:port to bind the webserver to")
	flags.StringVar(&keyHex, "key", "", "hex-encoded AES-128 decryption key (smart meters that encrypt)")
	flags.StringVar(&aadHex, "aad", "", "hex-encoded additional authenticated data")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func setupLogger(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: l})))
}

func decodeKeyAndAAD(keyHex, aadHex string) (key, aad []byte, err error) {
	if keyHex != "" {
		key, err = hex.DecodeString(keyHex)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --key: %w", err)
		}
	}
	if aadHex != "" {
		aad, err = hex.DecodeString(aadHex)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --aad: %w", err)
		}
	}
	return key, aad, nil
}

// daemon holds the latest reading and the set of subscribed websocket
// clients; it mirrors dsmrp1d's sync.Mutex-guarded telegram pointer,
// generalized with a broadcast fan-out for the new /ws endpoint.
type daemon struct {
	key, aad []byte

	mu      sync.Mutex
	latest  *record.Reading
	clients map[*websocket.Conn]chan []byte
}

func newDaemon(key, aad []byte) *daemon {
	return &daemon{
		key:     key,
		aad:     aad,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

func (d *daemon) readLoop(r io.Reader) {
	var mu sync.Mutex
	var active stream.Parser

	onReading := func(err error, reading *record.Reading, raw []byte) {
		if err != nil {
			slog.Error("decode error", "error", err)
			return
		}
		d.publish(reading)
	}

	detector := stream.NewTypeDetector(func(res *stream.DetectionResult) {
		mu.Lock()
		defer mu.Unlock()
		slog.Info("detected telegram flavor", "mode", res.Mode, "encrypted", res.Encrypted)
		opts := stream.Options{DecryptionKey: d.key, AAD: d.aad, InitialData: res.BufferedData}
		switch {
		case res.Mode == "dlms":
			active = stream.NewDLMSParser(onReading, opts)
		case res.Encrypted:
			active = stream.NewEncryptedDSMRParser(onReading, opts)
		default:
			active = stream.NewDSMRParser(onReading, opts)
		}
	}, stream.Options{DetectEncryption: d.key != nil})
	defer detector.Destroy()

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			mu.Lock()
			a := active
			mu.Unlock()
			if a != nil {
				a.OnData(buf[:n])
			} else {
				detector.OnData(buf[:n])
			}
		}
		if err != nil {
			slog.Error("serial read failed", "error", err)
			return
		}
	}
}

func (d *daemon) publish(reading *record.Reading) {
	s, err := json.Marshal(reading)
	if err != nil {
		slog.Error("failed to marshal reading", "error", err)
		return
	}

	d.mu.Lock()
	d.latest = reading
	for _, ch := range d.clients {
		select {
		case ch <- s:
		default:
			slog.Warn("dropping reading for slow websocket client")
		}
	}
	d.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (d *daemon) handleIndex(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	reading := d.latest
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	s, err := json.Marshal(reading)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(s)
}

func (d *daemon) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 8)
	d.mu.Lock()
	d.clients[conn] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.clients, conn)
		close(ch)
		d.mu.Unlock()
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (d *daemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleIndex)
	mux.HandleFunc("/ws", d.handleWS)
	return mux
}
