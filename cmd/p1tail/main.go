// Command p1tail connects to a P1 smart meter via serial port, detects
// the telegram flavor once, and prints each parsed record.Reading as
// indented JSON -- the reference consumer exercising the whole stack
// end to end.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

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
		keyHex    string
		aadHex    string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:           "p1tail",
		Short:         "Tail a P1 smart meter and print decoded readings as JSON",
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

			return runTail(port, key, aad)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&serialDev, "serial", "/dev/P1", "path to serial port")
	flags.IntVar(&baud, "baud", 115200, "serial baud rate")
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

// runTail drives the read loop: feed the detector until it fires once,
// then hand the rest of the stream straight to the chosen parser.
func runTail(r io.Reader, key, aad []byte) error {
	var mu sync.Mutex
	var active stream.Parser

	onReading := func(err error, reading *record.Reading, raw []byte) {
		if err != nil {
			slog.Error("decode error", "error", err)
			return
		}
		s, marshalErr := json.MarshalIndent(reading, "", "  ")
		if marshalErr != nil {
			slog.Error("failed to marshal reading", "error", marshalErr)
			return
		}
		fmt.Println(string(s))
	}

	detector := stream.NewTypeDetector(func(res *stream.DetectionResult) {
		mu.Lock()
		defer mu.Unlock()
		slog.Info("detected telegram flavor", "mode", res.Mode, "encrypted", res.Encrypted)
		active = newParserFor(res, onReading, key, aad)
	}, stream.Options{DetectEncryption: key != nil})
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
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
	}
}

func newParserFor(res *stream.DetectionResult, cb stream.Callback, key, aad []byte) stream.Parser {
	opts := stream.Options{DecryptionKey: key, AAD: aad, InitialData: res.BufferedData}
	switch {
	case res.Mode == "dlms":
		return stream.NewDLMSParser(cb, opts)
	case res.Encrypted:
		return stream.NewEncryptedDSMRParser(cb, opts)
	default:
		return stream.NewDSMRParser(cb, opts)
	}
}
