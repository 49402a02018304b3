package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danmuck/scenecast/internal/protocol/frame"
	"github.com/danmuck/scenecast/internal/protocol/wire"
	"github.com/danmuck/scenecast/internal/scene"
	"github.com/danmuck/scenecast/internal/sprites"
)

type decodeOptions struct {
	hex     bool
	payload bool
}

type frameSummary struct {
	Type     string          `json:"type"`
	Sequence uint64          `json:"sequence"`
	Flags    uint32          `json:"flags,omitempty"`
	Bytes    int             `json:"bytes"`
	Stats    scene.ReadStats `json:"stats"`
	Error    string          `json:"error,omitempty"`
}

type decodeReport struct {
	Frames  []frameSummary `json:"frames"`
	Orphans []scene.NodeID `json:"orphans,omitempty"`
	Tree    scene.NodeView `json:"tree"`
}

func init() {
	rootCmd.AddCommand(newDecodeCmd())
}

func newDecodeCmd() *cobra.Command {
	opts := decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode <file|->",
		Short: "Apply captured frames to an empty mirror tree and print it",
		Long: `decode reads a capture of consecutive frames, or with --payload a single
bare record stream, applies it to a fresh consumer tree, and prints every
frame's read stats followed by the resulting tree as JSON.

Example:
  scenectl decode capture.bin
  echo 0109... | scenectl decode --hex --payload -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			report, err := decodeCapture(data, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "input is hex text")
	cmd.Flags().BoolVar(&opts.payload, "payload", false, "input is a bare record stream, not frames")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// decodeCapture stops at the first frame that fails to apply; its error is
// part of the report.
func decodeCapture(data []byte, opts decodeOptions) (decodeReport, error) {
	if opts.hex {
		decoded, err := hex.DecodeString(strings.Join(strings.Fields(string(data)), ""))
		if err != nil {
			return decodeReport{}, fmt.Errorf("decode hex: %w", err)
		}
		data = decoded
	}

	reg, err := sprites.NewRegistry()
	if err != nil {
		return decodeReport{}, err
	}
	tree, err := scene.NewTree(scene.RoleConsumer, reg)
	if err != nil {
		return decodeReport{}, err
	}

	report := decodeReport{}
	if opts.payload {
		report.Frames = append(report.Frames, applyPayload(tree, frame.New(frame.MessageSnapshot, 0, data)))
	} else {
		r := bytes.NewReader(data)
		for {
			f, err := frame.ReadFrame(r, frame.DefaultLimits())
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return decodeReport{}, fmt.Errorf("frame %d: %w", len(report.Frames), err)
			}
			summary := applyPayload(tree, f)
			report.Frames = append(report.Frames, summary)
			if summary.Error != "" {
				break
			}
		}
	}
	report.Orphans = tree.Orphans()
	report.Tree = tree.Describe()
	return report, nil
}

func applyPayload(tree *scene.Tree, f frame.Frame) frameSummary {
	summary := frameSummary{
		Type:     f.Header.MessageType.String(),
		Sequence: f.Header.Sequence,
		Flags:    f.Header.Flags,
		Bytes:    len(f.Payload),
	}
	switch f.Header.MessageType {
	case frame.MessageSnapshot, frame.MessageDiff:
	default:
		return summary
	}
	stats, err := tree.ReadStream(wire.FromBytes(f.Payload))
	summary.Stats = stats
	if err != nil {
		summary.Error = err.Error()
	}
	return summary
}
