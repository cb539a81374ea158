// Command hedgesize prints balanced leg sizes for a planned hedge entry using
// the contract specs from the engine configuration.
//
//	hedgesize -config config.toml -a gateio:BTC_USDT -b binance:BTCUSDT -qty 0.35 -parts 3
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alanyoungcy/hedgerisk/internal/arbitrage"
	"github.com/alanyoungcy/hedgerisk/internal/config"
	"github.com/alanyoungcy/hedgerisk/internal/connector"
	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "hedgesize: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hedgesize", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file with [[contracts]]")
	legA := fs.String("a", "", "first leg as exchange:symbol")
	legB := fs.String("b", "", "second leg as exchange:symbol")
	qty := fs.Float64("qty", 0, "desired base-currency quantity")
	parts := fs.Int("parts", 1, "number of equal tranches")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	assumeUnit := fs.Bool("assume-unit", false, "size legs missing from [[contracts]] with multiplier 1")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	specs, err := connector.SpecsFromConfig(cfg.Contracts)
	if err != nil {
		return err
	}

	a, err := lookupLeg(specs, *legA, *assumeUnit)
	if err != nil {
		return fmt.Errorf("-a: %w", err)
	}
	b, err := lookupLeg(specs, *legB, *assumeUnit)
	if err != nil {
		return fmt.Errorf("-b: %w", err)
	}

	res, err := arbitrage.GraduatedQuantities(*qty, *parts, a, b)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printTable(out, res, a, b)
}

// lookupLeg resolves an exchange:symbol argument. A leg missing from
// [[contracts]] is an error unless assumeUnit is set.
func lookupLeg(specs *connector.ContractSpecs, arg string, assumeUnit bool) (domain.ContractSpec, error) {
	exchange, symbol, ok := strings.Cut(arg, ":")
	if !ok || exchange == "" || symbol == "" {
		return domain.ContractSpec{}, errors.New("expected exchange:symbol")
	}
	spec, ok := specs.Lookup(exchange, symbol)
	if !ok && !assumeUnit {
		return domain.ContractSpec{}, fmt.Errorf("%s is not in [[contracts]] (pass -assume-unit for a multiplier of 1)", arg)
	}
	return spec, nil
}

func printTable(out io.Writer, res arbitrage.GraduatedResult, a, b domain.ContractSpec) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%g\n", res.Total)
	fmt.Fprintf(w, "parts\t%d\n", res.Parts)
	fmt.Fprintf(w, "balanced per part\t%g\n", res.QuantityPerPart)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "leg\tmultiplier\tcontracts\teffective\tadjusted")
	writeLeg(w, a, res.PerPart.LegA)
	writeLeg(w, b, res.PerPart.LegB)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "effective per part\t%g\n", res.EffectiveQuantityPerPart)
	fmt.Fprintf(w, "effective total\t%g\n", res.TotalEffectiveQuantity)
	return w.Flush()
}

func writeLeg(w io.Writer, spec domain.ContractSpec, q arbitrage.QuantityResult) {
	adjusted := "no"
	if q.Adjusted {
		adjusted = "yes: " + q.Reason
	}
	fmt.Fprintf(w, "%s:%s\t%g\t%g\t%g\t%s\n", spec.Exchange, spec.Symbol, spec.Multiplier, q.Contracts, q.Effective, adjusted)
}
