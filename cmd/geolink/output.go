package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/coalsense/geolink/internal/geolink"
	"github.com/coalsense/geolink/internal/linkparser"
)

type outputFormat string

const (
	outputFormatText outputFormat = "text"
	outputFormatCSV  outputFormat = "csv"
	outputFormatJSON outputFormat = "json"

	csvHeaderInput     = "input"
	csvHeaderLatitude  = "latitude"
	csvHeaderLongitude = "longitude"
	csvHeaderOutcome   = "outcome"
	csvHeaderError     = "error"

	outcomeResolved        = "resolved"
	outcomeExpansionNeeded = "expansion_needed"
	outcomeFailed          = "failed"

	errMessageWriteCSV  = "write CSV output"
	errMessageWriteJSON = "write JSON output"
	errMessageWriteText = "write text output"
)

type resolutionOutput struct {
	Input       string `json:"input"`
	Latitude    string `json:"latitude,omitempty"`
	Longitude   string `json:"longitude,omitempty"`
	Outcome     string `json:"outcome"`
	FailureKind string `json:"failure_kind,omitempty"`
	Error       string `json:"error,omitempty"`
}

func outputFromResolution(resolution geolink.Resolution) resolutionOutput {
	output := resolutionOutput{Input: resolution.Input}
	if resolution.Err != nil {
		output.Outcome = outcomeFailed
		output.Error = resolution.Err.Error()
		if kind, ok := geolink.FailureKindOf(resolution.Err); ok {
			output.FailureKind = string(kind)
		}
		return output
	}
	output.Outcome = outcomeResolved
	output.Latitude = resolution.Coordinate.LatitudeText()
	output.Longitude = resolution.Coordinate.LongitudeText()
	return output
}

func outputFromAttempt(input string, attempt linkparser.Attempt) resolutionOutput {
	output := resolutionOutput{Input: input}
	switch attempt.Outcome {
	case linkparser.OutcomeResolved:
		output.Outcome = outcomeResolved
		output.Latitude = attempt.Coordinate.LatitudeText()
		output.Longitude = attempt.Coordinate.LongitudeText()
	case linkparser.OutcomeExpansionNeeded:
		output.Outcome = outcomeExpansionNeeded
	default:
		output.Outcome = outcomeFailed
		output.FailureKind = string(geolink.FailureMalformedInput)
		output.Error = geolink.ReasonMalformedInput
	}
	return output
}

func writeOutputs(writer io.Writer, format outputFormat, outputs []resolutionOutput) error {
	switch format {
	case outputFormatCSV:
		csvWriter := csv.NewWriter(writer)
		_ = csvWriter.Write([]string{csvHeaderInput, csvHeaderLatitude, csvHeaderLongitude, csvHeaderOutcome, csvHeaderError})
		for _, output := range outputs {
			_ = csvWriter.Write([]string{output.Input, output.Latitude, output.Longitude, output.Outcome, output.Error})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			return fmt.Errorf("%s: %w", errMessageWriteCSV, err)
		}
	case outputFormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetEscapeHTML(false)
		for _, output := range outputs {
			if err := encoder.Encode(output); err != nil {
				return fmt.Errorf("%s: %w", errMessageWriteJSON, err)
			}
		}
	default:
		for _, output := range outputs {
			if err := emitTextOutput(writer, output); err != nil {
				return fmt.Errorf("%s: %w", errMessageWriteText, err)
			}
		}
	}
	return nil
}

func emitTextOutput(writer io.Writer, output resolutionOutput) error {
	switch output.Outcome {
	case outcomeResolved:
		_, err := fmt.Fprintf(writer, "%s: %s,%s\n", output.Input, output.Latitude, output.Longitude)
		return err
	case outcomeExpansionNeeded:
		_, err := fmt.Fprintf(writer, "%s:\n  needs expansion\n", output.Input)
		return err
	default:
		_, err := fmt.Fprintf(writer, "%s:\n  err:  %s\n", output.Input, output.Error)
		return err
	}
}
