// Command p1munin is a Munin plugin reporting electricity and gas usage
// from the uniform record.Reading JSON served by p1d, mirroring
// dsmrp1-munin's multigraph layout against the new wire shape.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/p1decoder/p1core/pkg/record"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:           "p1munin",
		Short:         "Munin plugin for p1d electricity and gas readings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return reportValues(url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:1121", "p1d base URL")

	configCmd := &cobra.Command{
		Use:           "config",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printConfig()
			return nil
		},
	}

	autoconfCmd := &cobra.Command{
		Use:           "autoconf",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Println("yes")
			return nil
		},
	}

	cmd.AddCommand(configCmd, autoconfCmd)
	return cmd
}

func fetchReading(url string) (*record.Reading, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to p1d at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var reading record.Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		return nil, fmt.Errorf("failed to parse reading: %w", err)
	}
	return &reading, nil
}

func reportValues(url string) error {
	reading, err := fetchReading(url)
	if err != nil {
		return err
	}

	e := reading.Electricity
	wh := e.Total.Received - e.Total.Returned
	for _, t := range e.Tariffs {
		wh += t.Received - t.Returned
	}

	fmt.Println("multigraph p1_kwh")
	fmt.Printf("kwh.value %d\n", int64(wh*60*60))
	fmt.Println()

	if g, ok := reading.MBus[1]; ok {
		fmt.Println("multigraph p1_dm3")
		fmt.Printf("dm3.value %d\n", int64(g.Value*1000))
	}
	return nil
}

func printConfig() {
	fmt.Println("multigraph p1_kwh")
	fmt.Println("graph_title Electricity usage")
	fmt.Println("graph_vlabel Watt")
	fmt.Println("graph_category P1")
	fmt.Println("kwh.label Watt")
	fmt.Println("kwh.type DERIVE")
	fmt.Println()
	fmt.Println("multigraph p1_dm3")
	fmt.Println("graph_title gas usage")
	fmt.Println("graph_vlabel dm3/h")
	fmt.Println("graph_period hour")
	fmt.Println("graph_category P1")
	fmt.Println("dm3.label dm3/h")
	fmt.Println("dm3.type DERIVE")
}
