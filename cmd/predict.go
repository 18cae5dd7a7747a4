package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"healthrisk/inference"
)

func newPredictCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <maternal|pcos> [args]",
		Short: "score one input and print a JSON line",
		Long: `Score one input and print the result as a single JSON line.

  predict maternal <age> <systolicBP> <diastolicBP> <bloodSugar> <bodyTemp> <heartRate>
  predict pcos '<json-object>'

Input errors are reported as {"success":false,...} and the command still exits 0.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.newRegistry(false)
			if err != nil {
				return err
			}
			defer registry.Close()

			service := opts.newService(registry)
			return writeLine(cmd.OutOrStdout(), predictArgs(cmd, service, args[0], args[1:]))
		},
	}
}

func predictArgs(cmd *cobra.Command, service *inference.Service, domain string, args []string) interface{} {
	switch domain {
	case inference.DomainMaternal:
		payload, err := maternalPayload(args)
		if err != nil {
			return inference.Fail(err)
		}
		return service.Respond(cmd.Context(), domain, payload)
	case inference.DomainPCOS:
		if len(args) != 1 {
			return inference.Fail(fmt.Errorf("%w: expected one JSON object argument", inference.ErrInvalidValue))
		}
		return service.Respond(cmd.Context(), domain, []byte(args[0]))
	default:
		return inference.Fail(inference.ErrInvalidDomain)
	}
}

// maternalPayload turns the six positional measurements into the request body
// the HTTP endpoint accepts.
func maternalPayload(args []string) ([]byte, error) {
	if len(args) != len(inference.MaternalFields) {
		return nil, fmt.Errorf("%w: expected %d measurements (%s), got %d",
			inference.ErrMissingField, len(inference.MaternalFields), strings.Join(inference.MaternalFields, ", "), len(args))
	}
	body := make(map[string]float64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: could not convert %q to float", inference.ErrInvalidValue, inference.MaternalFields[i], arg)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s is not finite", inference.ErrInvalidValue, inference.MaternalFields[i])
		}
		body[inference.MaternalFields[i]] = v
	}
	return json.Marshal(body)
}

func newBatchCmd(opts *options) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "batch <maternal|pcos> --input file.csv",
		Short: "score every row of a CSV file, one JSON line per row",
		Long: `Score every row of a CSV file. The header names the request fields
(age,systolicBP,... for maternal; the bundle's feature names for pcos).
Empty cells are treated as absent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := args[0]
			if domain != inference.DomainMaternal && domain != inference.DomainPCOS {
				return writeLine(cmd.OutOrStdout(), inference.Fail(inference.ErrInvalidDomain))
			}

			f, err := os.Open(input)
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := gocsv.CSVToMaps(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}

			registry, err := opts.newRegistry(false)
			if err != nil {
				return err
			}
			defer registry.Close()
			service := opts.newService(registry)

			out := cmd.OutOrStdout()
			for _, row := range rows {
				payload, err := json.Marshal(rowPayload(row))
				if err != nil {
					return err
				}
				if err := writeLine(out, service.Respond(cmd.Context(), domain, payload)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV file to score")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// rowPayload converts CSV cells to JSON values. Numeric cells become numbers,
// empty cells are dropped and anything else is passed through as text so
// the service reports it.
func rowPayload(row map[string]string) map[string]interface{} {
	payload := make(map[string]interface{}, len(row))
	for key, cell := range row {
		key = strings.TrimSpace(key)
		cell = strings.TrimSpace(cell)
		if key == "" || cell == "" {
			continue
		}
		if v, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			payload[key] = v
			continue
		}
		if b, err := strconv.ParseBool(cell); err == nil {
			payload[key] = b
			continue
		}
		payload[key] = cell
	}
	return payload
}

func writeLine(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
