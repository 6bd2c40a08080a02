package app

import (
	"fmt"
	"os"
	"strings"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/risk"
	"github.com/ggonzalez94/defi-intent/internal/schema"
	"github.com/ggonzalez94/defi-intent/internal/strategy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type operationFlags struct {
	intent     string
	protocol   string
	token      string
	amount     float64
	leverage   float64
	portfolio  float64
	experience string
}

func (f *operationFlags) register(cmd *cobra.Command) {
	intents := make([]string, 0, len(model.Intents()))
	for _, intent := range model.Intents() {
		intents = append(intents, string(intent))
	}
	cmd.Flags().StringVar(&f.intent, "intent", "", "Operation intent")
	cmd.Flags().StringVar(&f.protocol, "protocol", "", "Protocol name")
	cmd.Flags().StringVar(&f.token, "token", "", "Token symbol")
	cmd.Flags().Float64Var(&f.amount, "amount", 0, "Operation size in USD")
	cmd.Flags().Float64Var(&f.leverage, "leverage", 0, "Leverage multiple")
	cmd.Flags().Float64Var(&f.portfolio, "portfolio", 0, "Total portfolio value in USD")
	cmd.Flags().StringVar(&f.experience, "experience", "", "User experience (beginner, intermediate, advanced, expert)")
	_ = cmd.MarkFlagRequired("intent")
	_ = cmd.Flags().SetAnnotation("intent", schema.EnumAnnotation, intents)
}

func (f *operationFlags) input() (risk.Input, error) {
	intent, ok := model.ParseIntent(f.intent)
	if !ok {
		return risk.Input{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown intent %q", f.intent))
	}
	in := risk.Input{
		Intent:         intent,
		Protocol:       strings.ToLower(strings.TrimSpace(f.protocol)),
		Token:          strings.ToUpper(strings.TrimSpace(f.token)),
		Amount:         f.amount,
		Leverage:       f.leverage,
		PortfolioValue: f.portfolio,
	}
	if f.experience != "" {
		exp, ok := risk.ParseExperience(f.experience)
		if !ok {
			return risk.Input{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown experience %q", f.experience))
		}
		in.Experience = exp
	}
	return in, nil
}

func readYAMLFile(path, flag string, v any) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "read "+flag, err)
	}
	if err := yaml.Unmarshal(buf, v); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "parse "+flag, err)
	}
	return nil
}

// tolerance accepts a level name ("medium", "very-high") or a phrase
// ("I'm fine with some risk").
func tolerance(v string) (risk.Level, error) {
	if lvl, ok := risk.ParseLevel(v); ok {
		return lvl, nil
	}
	res, err := risk.InterpretTolerance(v)
	if err != nil {
		return "", err
	}
	return res.Level, nil
}

func (s *runtimeState) newRiskCommand() *cobra.Command {
	root := &cobra.Command{Use: "risk", Short: "Risk assessment and user risk profiles"}

	var assessFlags operationFlags
	assess := &cobra.Command{
		Use:     "assess",
		Short:   "Score the risk of an operation",
		Example: `  defi-intent risk assess --intent open_position --protocol citrex --amount 5000 --leverage 10`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := assessFlags.input()
			if err != nil {
				return err
			}
			res, err := s.ensureProfiler().Assess(in)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, res.Warnings)
		},
	}
	assessFlags.register(assess)

	toleranceCmd := &cobra.Command{
		Use:   "tolerance <text>",
		Short: "Interpret a risk tolerance statement",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := risk.InterpretTolerance(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil)
		},
	}

	var questionnairePath string
	profile := &cobra.Command{
		Use:   "profile",
		Short: "Build a risk profile from a YAML questionnaire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var q risk.Questionnaire
			if err := readYAMLFile(questionnairePath, "--file", &q); err != nil {
				return err
			}
			p, err := risk.BuildProfile(q)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), p, nil)
		},
	}
	profile.Flags().StringVar(&questionnairePath, "file", "", "Questionnaire YAML file")
	_ = profile.MarkFlagRequired("file")

	var checkFlags operationFlags
	var checkProfilePath string
	check := &cobra.Command{
		Use:   "check",
		Short: "Check an operation against a questionnaire-derived profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var q risk.Questionnaire
			if err := readYAMLFile(checkProfilePath, "--profile", &q); err != nil {
				return err
			}
			p, err := risk.BuildProfile(q)
			if err != nil {
				return err
			}
			in, err := checkFlags.input()
			if err != nil {
				return err
			}
			res, err := s.ensureProfiler().CheckCompatibility(p, in)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, res.Warnings)
		},
	}
	checkFlags.register(check)
	check.Flags().StringVar(&checkProfilePath, "profile", "", "Questionnaire YAML file")
	_ = check.MarkFlagRequired("profile")

	root.AddCommand(assess, toleranceCmd, profile, check)
	return root
}

func (s *runtimeState) newStrategiesCommand() *cobra.Command {
	root := &cobra.Command{Use: "strategies", Short: "Strategy catalog and matching"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := s.ensureMatcher()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), m.All(), nil)
		},
	}

	show := &cobra.Command{
		Use:   "show <strategy-id>",
		Short: "Show one strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := s.ensureMatcher()
			if err != nil {
				return err
			}
			info, err := m.Get(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), info, nil)
		},
	}

	var (
		amountArg     float64
		toleranceArg  string
		prefer        string
		exclude       string
		minAPY        float64
		allowLeverage bool
		durationDays  int
		adjust        bool
	)
	match := &cobra.Command{
		Use:     "match",
		Short:   "Rank strategies for an amount and risk tolerance",
		Example: `  defi-intent strategies match --amount 5000 --tolerance "moderate risk is fine" --prefer yei-finance`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := strategy.Criteria{
				Amount:             amountArg,
				PreferredProtocols: splitCSV(prefer),
				ExcludedProtocols:  splitCSV(exclude),
				MinAPY:             minAPY,
				AllowLeverage:      allowLeverage,
				DurationDays:       durationDays,
			}
			if toleranceArg != "" {
				lvl, err := tolerance(toleranceArg)
				if err != nil {
					return err
				}
				c.RiskTolerance = lvl
			}
			m, err := s.ensureMatcher()
			if err != nil {
				return err
			}
			if adjust && !s.settings.Strategies.EnableDynamicAdjustments {
				cfg := s.settings.Strategies
				cfg.EnableDynamicAdjustments = true
				if m, err = strategy.New(cfg, strategy.WithLogger(s.log.Named("strategy"))); err != nil {
					return clierr.Wrap(clierr.CodeInternal, "load strategy catalog", err)
				}
			}
			res, err := m.Match(c)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil)
		},
	}
	match.Flags().Float64Var(&amountArg, "amount", 0, "Amount to deploy in USD")
	match.Flags().StringVar(&toleranceArg, "tolerance", "", "Risk tolerance level or statement")
	match.Flags().StringVar(&prefer, "prefer", "", "Preferred protocols (comma-separated)")
	match.Flags().StringVar(&exclude, "exclude", "", "Excluded protocols (comma-separated)")
	match.Flags().Float64Var(&minAPY, "min-apy", 0, "Minimum APY percent")
	match.Flags().BoolVar(&allowLeverage, "allow-leverage", false, "Allow leveraged strategies")
	match.Flags().IntVar(&durationDays, "duration-days", 0, "Intended holding period in days")
	match.Flags().BoolVar(&adjust, "adjust", false, "Include parameter adjustments for each match")

	var holdingsPath, optimizeTolerance string
	optimize := &cobra.Command{
		Use:   "optimize",
		Short: "Suggest portfolio improvements for current strategy holdings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var holdings []strategy.Holding
			if err := readYAMLFile(holdingsPath, "--holdings", &holdings); err != nil {
				return err
			}
			lvl := risk.Medium
			if optimizeTolerance != "" {
				var err error
				if lvl, err = tolerance(optimizeTolerance); err != nil {
					return err
				}
			}
			m, err := s.ensureMatcher()
			if err != nil {
				return err
			}
			res, err := m.Optimize(holdings, lvl)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil)
		},
	}
	optimize.Flags().StringVar(&holdingsPath, "holdings", "", "YAML list of {strategy_id, amount}")
	optimize.Flags().StringVar(&optimizeTolerance, "tolerance", "", "Risk tolerance level or statement (default medium)")
	_ = optimize.MarkFlagRequired("holdings")

	root.AddCommand(list, show, match, optimize)
	return root
}
