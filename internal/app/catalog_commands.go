package app

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/defi-intent/internal/amount"
	"github.com/ggonzalez94/defi-intent/internal/asset"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/id"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// amountResult adds on-chain base units when --token names a catalog asset.
type amountResult struct {
	amount.Result
	Token     string `json:"token,omitempty"`
	Decimals  *int   `json:"decimals,omitempty"`
	BaseUnits string `json:"base_units,omitempty"`
}

func (s *runtimeState) newAmountCommand() *cobra.Command {
	root := &cobra.Command{Use: "amount", Short: "Amount helpers"}

	var token, contextPath string
	var balance, portfolio, position float64
	parse := &cobra.Command{
		Use:   "parse <text>",
		Short: "Parse a natural-language amount (\"1.5k\", \"50%\", \"half\")",
		Example: `  defi-intent amount parse "two hundred"
  defi-intent amount parse 50% --balance 1000`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctx *amount.Context
			if contextPath != "" {
				var pc model.ParsingContext
				if err := readJSONFile(contextPath, "--context", &pc); err != nil {
					return err
				}
				ctx = amount.ContextFor(&pc, strings.ToUpper(strings.TrimSpace(token)))
			}
			if cmd.Flags().Changed("balance") || cmd.Flags().Changed("portfolio") || cmd.Flags().Changed("position") {
				if ctx == nil {
					ctx = &amount.Context{Currency: strings.ToUpper(strings.TrimSpace(token))}
				}
				if cmd.Flags().Changed("balance") {
					ctx.UserBalance = decimalFlag(balance)
				}
				if cmd.Flags().Changed("portfolio") {
					ctx.PortfolioValue = decimalFlag(portfolio)
				}
				if cmd.Flags().Changed("position") {
					ctx.PositionSize = decimalFlag(position)
				}
			}
			parser := amount.New(s.settings.Amount, amount.WithLogger(s.log.Named("amount")))
			res, err := parser.Parse(strings.Join(args, " "), ctx)
			if err != nil {
				return err
			}
			result := amountResult{Result: res}
			if symbol := strings.ToUpper(strings.TrimSpace(token)); symbol != "" {
				result.Token = symbol
				r, err := s.ensureAssets()
				if err != nil {
					return err
				}
				if info, ok := r.Lookup(symbol); ok {
					places := info.Decimals
					base, err := id.ToBaseUnits(res.Exact.Truncate(int32(places)).String(), places)
					if err != nil {
						return err
					}
					result.Decimals = &places
					result.BaseUnits = base
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, nil)
		},
	}
	parse.Flags().StringVar(&token, "token", "", "Token the amount refers to")
	parse.Flags().Float64Var(&balance, "balance", 0, "Balance for percentages and relative amounts")
	parse.Flags().Float64Var(&portfolio, "portfolio", 0, "Portfolio value for percentages")
	parse.Flags().Float64Var(&position, "position", 0, "Position size for percentages")
	parse.Flags().StringVar(&contextPath, "context", "", "JSON context file; --token selects the balance")
	root.AddCommand(parse)
	return root
}

func decimalFlag(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func (s *runtimeState) newAssetsCommand() *cobra.Command {
	root := &cobra.Command{Use: "assets", Short: "Asset catalog helpers"}

	resolve := &cobra.Command{
		Use:   "resolve <symbol-or-name>",
		Short: "Resolve free text to a catalog asset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := s.ensureAssets()
			if err != nil {
				return err
			}
			res, err := r.Resolve(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil)
		},
	}

	var query, category string
	var stableOnly bool
	var limit int
	search := &cobra.Command{
		Use:   "search",
		Short: "Search assets by symbol, name or alias",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := s.ensureAssets()
			if err != nil {
				return err
			}
			items := r.Search(asset.Filter{
				Query:          query,
				Category:       asset.Category(strings.ToLower(strings.TrimSpace(category))),
				StablecoinOnly: stableOnly,
				Limit:          limit,
			})
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	search.Flags().StringVar(&query, "query", "", "Substring to match")
	search.Flags().StringVar(&category, "category", "", "Asset category (native, wrapped, stablecoin, liquid_staking, defi, meme)")
	search.Flags().BoolVar(&stableOnly, "stablecoins", false, "Only stablecoins")
	search.Flags().IntVar(&limit, "limit", 20, "Maximum assets to return")

	suggest := &cobra.Command{
		Use:   "suggest <prefix>",
		Short: "Autocomplete asset symbols",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := s.ensureAssets()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), r.Suggest(args[0]), nil)
		},
	}

	var popularLimit int
	popular := &cobra.Command{
		Use:   "popular",
		Short: "Most popular assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := s.ensureAssets()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), r.Popular(popularLimit), nil)
		},
	}
	popular.Flags().IntVar(&popularLimit, "limit", 10, "Maximum assets to return")

	stables := &cobra.Command{
		Use:   "stablecoins",
		Short: "List stablecoins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := s.ensureAssets()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), r.Stablecoins(), nil)
		},
	}

	root.AddCommand(resolve, search, suggest, popular, stables)
	return root
}

func (s *runtimeState) newProtocolsCommand() *cobra.Command {
	root := &cobra.Command{Use: "protocols", Short: "Protocol registry"}

	var intentArg string
	list := &cobra.Command{
		Use:   "list",
		Short: "List known protocols, or those viable for an intent in rank order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := s.registry()
			if err != nil {
				return err
			}
			if intentArg == "" {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), reg.All(), nil)
			}
			intent, ok := model.ParseIntent(intentArg)
			if !ok {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown intent %q", intentArg))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), reg.Viable(intent), nil)
		},
	}
	list.Flags().StringVar(&intentArg, "intent", "", "Only protocols supporting this intent")

	resolve := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Resolve a protocol name or alias",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := s.registry()
			if err != nil {
				return err
			}
			p, err := reg.Resolve(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), p, nil)
		},
	}

	root.AddCommand(list, resolve)
	return root
}

// registry is the registry the pipeline validates against, so --protocols
// restricts what these commands show too.
func (s *runtimeState) registry() (*registry.Registry, error) {
	p, err := s.ensurePipeline()
	if err != nil {
		return nil, err
	}
	return p.Registry(), nil
}
