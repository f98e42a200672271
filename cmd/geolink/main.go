package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/coalsense/geolink/internal/geolink"
	"github.com/coalsense/geolink/internal/linkparser"
)

const (
	commandUse                     = "geolink [link ...]"
	commandShortDescription        = "Resolve Google Maps links and coordinate text into latitude and longitude"
	commandExample                 = "  geolink 'https://www.google.com/maps/@48.8583701,2.2944813,17z'\n  geolink --csv https://maps.app.goo.gl/abc123\n  cat links.txt | geolink --json"
	envPrefix                      = "GEOLINK"
	flagExpanderURLName            = "expander-url"
	flagExpanderURLDescription     = "Base URL of the companion expansion service"
	flagOfflineName                = "offline"
	flagOfflineDescription         = "Only check inputs locally; never expand short links"
	flagNoFallbackName             = "no-fallback"
	flagNoFallbackDescription      = "Do not follow redirects directly when the expansion service is unreachable"
	flagTimeoutName                = "timeout"
	flagTimeoutDescription         = "Timeout for each network request"
	flagConcurrencyName            = "concurrency"
	flagConcurrencyDescription     = "Number of inputs resolved at once"
	flagCSVName                    = "csv"
	flagCSVDescription             = "Output CSV: input,latitude,longitude,outcome,error"
	flagJSONName                   = "json"
	flagJSONDescription            = "Output JSON lines"
	flagVerboseName                = "verbose"
	flagVerboseDescription         = "Log resolution details to stderr"
	defaultTimeout                 = 15 * time.Second
	defaultConcurrency             = 8
	errMessageLoggerCreate         = "create logger"
	errMessageReadInputs           = "stdin read error"
	errMessageOutputFormatConflict = "cannot specify both --csv and --json"
	errMessageCreateClient         = "create expansion client"
	errMessageNoInputs             = "no links provided"
	errMessageUnresolvedInputs     = "some inputs could not be resolved"
)

var (
	errOutputFormatConflict = errors.New(errMessageOutputFormatConflict)
	errNoInputs             = errors.New(errMessageNoInputs)
	errUnresolvedInputs     = errors.New(errMessageUnresolvedInputs)
)

func main() {
	cobra.CheckErr(newGeolinkCommand().Execute())
}

func newGeolinkCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          commandUse,
		Short:        commandShortDescription,
		Example:      commandExample,
		RunE:         runGeolinkCommand,
		SilenceUsage: true,
	}

	command.Flags().String(flagExpanderURLName, geolink.DefaultExpanderBaseURL, flagExpanderURLDescription)
	command.Flags().Bool(flagOfflineName, false, flagOfflineDescription)
	command.Flags().Bool(flagNoFallbackName, false, flagNoFallbackDescription)
	command.Flags().Duration(flagTimeoutName, defaultTimeout, flagTimeoutDescription)
	command.Flags().Int(flagConcurrencyName, defaultConcurrency, flagConcurrencyDescription)
	command.Flags().Bool(flagCSVName, false, flagCSVDescription)
	command.Flags().Bool(flagJSONName, false, flagJSONDescription)
	command.Flags().Bool(flagVerboseName, false, flagVerboseDescription)

	for _, flagName := range []string{
		flagExpanderURLName,
		flagOfflineName,
		flagNoFallbackName,
		flagTimeoutName,
		flagConcurrencyName,
		flagCSVName,
		flagJSONName,
		flagVerboseName,
	} {
		bindFlagToViper(command, flagName)
	}
	command.MarkFlagsMutuallyExclusive(flagCSVName, flagJSONName)

	cobra.OnInitialize(configureEnvironment)

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runGeolinkCommand(command *cobra.Command, arguments []string) error {
	format, err := determineOutputFormat(viper.GetBool(flagCSVName), viper.GetBool(flagJSONName))
	if err != nil {
		return err
	}

	inputs := collectInputs(arguments)
	if len(inputs) == 0 {
		stdinInputs, readErr := readInputs(command.InOrStdin())
		if readErr != nil {
			return fmt.Errorf("%s: %w", errMessageReadInputs, readErr)
		}
		inputs = stdinInputs
	}
	if len(inputs) == 0 {
		return errNoInputs
	}

	logger, err := newLogger(viper.GetBool(flagVerboseName))
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	var outputs []resolutionOutput
	if viper.GetBool(flagOfflineName) {
		outputs = checkOffline(command.Context(), inputs)
	} else {
		applicationContext, cancel := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		client, clientErr := geolink.NewClient(geolink.ClientConfig{
			ExpanderBaseURL: viper.GetString(flagExpanderURLName),
			Timeout:         viper.GetDuration(flagTimeoutName),
			DisableFallback: viper.GetBool(flagNoFallbackName),
			Logger:          logger,
		})
		if clientErr != nil {
			return fmt.Errorf("%s: %w", errMessageCreateClient, clientErr)
		}
		resolver := geolink.NewResolver(geolink.ResolverConfig{
			Expander:    client,
			Concurrency: viper.GetInt(flagConcurrencyName),
			Logger:      logger,
		})
		outputs = resolveOnline(applicationContext, resolver, inputs)
	}

	if err := writeOutputs(command.OutOrStdout(), format, outputs); err != nil {
		return err
	}
	for _, output := range outputs {
		if output.Outcome == outcomeFailed {
			return errUnresolvedInputs
		}
	}
	return nil
}

// checkOffline never expands short links. Unresolved input still goes through
// Resolve, which reads typed "lat , lng" text without any I/O.
func checkOffline(ctx context.Context, inputs []string) []resolutionOutput {
	resolver := geolink.NewResolver(geolink.ResolverConfig{})
	outputs := make([]resolutionOutput, 0, len(inputs))
	for _, input := range inputs {
		attempt := resolver.Check(input)
		if attempt.Outcome != linkparser.OutcomeUnresolved {
			outputs = append(outputs, outputFromAttempt(input, attempt))
			continue
		}
		coordinate, err := resolver.Resolve(ctx, input)
		outputs = append(outputs, outputFromResolution(geolink.Resolution{Input: input, Coordinate: coordinate, Err: err}))
	}
	return outputs
}

func resolveOnline(ctx context.Context, resolver *geolink.Resolver, inputs []string) []resolutionOutput {
	resolutions := resolver.ResolveMany(ctx, inputs)
	outputs := make([]resolutionOutput, 0, len(resolutions))
	for _, resolution := range resolutions {
		outputs = append(outputs, outputFromResolution(resolution))
	}
	return outputs
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func determineOutputFormat(csvRequested bool, jsonRequested bool) (outputFormat, error) {
	if csvRequested && jsonRequested {
		return "", errOutputFormatConflict
	}
	if csvRequested {
		return outputFormatCSV, nil
	}
	if jsonRequested {
		return outputFormatJSON, nil
	}
	return outputFormatText, nil
}

func collectInputs(arguments []string) []string {
	inputs := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		trimmed := strings.TrimSpace(argument)
		if trimmed == "" {
			continue
		}
		inputs = append(inputs, trimmed)
	}
	return inputs
}

func readInputs(reader io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(reader)
	inputs := []string{}
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}
		inputs = append(inputs, trimmed)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return inputs, nil
}
