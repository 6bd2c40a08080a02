package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/ggonzalez94/defi-intent/internal/command"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/id"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/risk"
	"github.com/ggonzalez94/defi-intent/internal/schema"
	"github.com/ggonzalez94/defi-intent/internal/store"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// maxInteractiveRounds bounds how many questions --interactive asks before
// leaving the last clarification pending.
const maxInteractiveRounds = 8

const (
	statusCommand       = "command"
	statusClarification = "clarification"
	statusError         = "error"
)

var entityTypes = []model.EntityType{
	model.EntityToken,
	model.EntityAmount,
	model.EntityProtocol,
	model.EntityLeverage,
	model.EntitySlippage,
}

// parseResult is the data payload for parse and resolve.
type parseResult struct {
	Status        string                       `json:"status"`
	Command       *model.ExecutableCommand     `json:"command,omitempty"`
	PendingID     string                       `json:"pending_id,omitempty"`
	Clarification *model.DisambiguationOptions `json:"clarification,omitempty"`
	ExpiresAt     *time.Time                   `json:"expires_at,omitempty"`
	Risk          *risk.Assessment             `json:"risk,omitempty"`
	Suggestions   []string                     `json:"suggestions,omitempty"`
}

func (r parseResult) PendingQuestion() (string, *model.DisambiguationOptions) {
	return r.PendingID, r.Clarification
}

type batchItem struct {
	Index         int                          `json:"index"`
	Status        string                       `json:"status"`
	Command       *model.ExecutableCommand     `json:"command,omitempty"`
	PendingID     string                       `json:"pending_id,omitempty"`
	Clarification *model.DisambiguationOptions `json:"clarification,omitempty"`
	Error         *model.ErrorBody             `json:"error,omitempty"`
}

type requestFlags struct {
	intent      string
	input       string
	entities    []string
	contextPath string
	quotePath   string
	requestPath string
	experience  string
	recipient   string
	maxSlippage float64
	gasLimit    uint64
}

func (f *requestFlags) register(cmd *cobra.Command) {
	intents := make([]string, 0, len(model.Intents()))
	for _, intent := range model.Intents() {
		intents = append(intents, string(intent))
	}
	types := make([]string, 0, len(entityTypes))
	for _, typ := range entityTypes {
		types = append(types, string(typ))
	}
	cmd.Flags().StringVar(&f.intent, "intent", "", "Classified intent")
	cmd.Flags().StringVar(&f.input, "input", "", "Original user text")
	cmd.Flags().StringArrayVar(&f.entities, "entity", nil, "Extracted entity as type=value (repeatable)")
	cmd.Flags().StringVar(&f.contextPath, "context", "", "JSON file with balances, positions and prices")
	cmd.Flags().StringVar(&f.quotePath, "quote", "", "JSON file with quote-derived parameters")
	cmd.Flags().StringVar(&f.requestPath, "request", "", "JSON file with a full request; other flags override it")
	cmd.Flags().StringVar(&f.experience, "experience", "", "User experience (beginner, intermediate, advanced, expert)")
	cmd.Flags().StringVar(&f.recipient, "recipient", "", "Recipient address")
	cmd.Flags().Float64Var(&f.maxSlippage, "max-slippage", 0, "Maximum slippage percent")
	cmd.Flags().Uint64Var(&f.gasLimit, "gas-limit", 0, "Gas limit override")
	_ = cmd.Flags().SetAnnotation("intent", schema.EnumAnnotation, intents)
	_ = cmd.Flags().SetAnnotation("entity", schema.EnumAnnotation, types)
}

func (f *requestFlags) request(cmd *cobra.Command) (command.Request, error) {
	var req command.Request
	if f.requestPath != "" {
		if err := readJSONFile(f.requestPath, "--request", &req); err != nil {
			return command.Request{}, err
		}
	}
	if f.intent != "" {
		intent, ok := model.ParseIntent(f.intent)
		if !ok {
			return command.Request{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown intent %q", f.intent))
		}
		req.Intent = intent
	}
	if req.Intent == "" {
		return command.Request{}, clierr.New(clierr.CodeUsage, "--intent or --request is required")
	}
	if f.input != "" {
		req.Input = f.input
	}
	for _, raw := range f.entities {
		entity, err := parseEntity(raw)
		if err != nil {
			return command.Request{}, err
		}
		req.Entities = append(req.Entities, entity)
	}
	if f.contextPath != "" {
		var pc model.ParsingContext
		if err := readJSONFile(f.contextPath, "--context", &pc); err != nil {
			return command.Request{}, err
		}
		req.Context = &pc
	}
	if f.quotePath != "" {
		var quote model.DerivedParameters
		if err := readJSONFile(f.quotePath, "--quote", &quote); err != nil {
			return command.Request{}, err
		}
		req.Quote = &quote
	}
	if f.experience != "" {
		exp, ok := risk.ParseExperience(f.experience)
		if !ok {
			return command.Request{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown experience %q", f.experience))
		}
		req.Experience = exp
	}
	if f.recipient != "" {
		req.Optional.Recipient = f.recipient
	}
	if cmd.Flags().Changed("max-slippage") {
		req.Optional.MaxSlippage = model.Float(f.maxSlippage)
	}
	if cmd.Flags().Changed("gas-limit") {
		req.Optional.GasLimit = model.Uint64(f.gasLimit)
	}
	return req, nil
}

func parseEntity(raw string) (model.FinancialEntity, error) {
	typ, value, ok := strings.Cut(raw, "=")
	typ = strings.ToLower(strings.TrimSpace(typ))
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return model.FinancialEntity{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("entity %q must be type=value", raw))
	}
	for _, known := range entityTypes {
		if string(known) == typ {
			return model.FinancialEntity{Type: known, Value: value}, nil
		}
	}
	return model.FinancialEntity{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown entity type %q", typ))
}

func readJSONFile(path, flag string, v any) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "read "+flag, err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "parse "+flag, err)
	}
	return nil
}

func (s *runtimeState) newParseCommand() *cobra.Command {
	var flags requestFlags
	var interactive bool
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Turn a classified request into a command or a clarification question",
		Example: `  defi-intent parse --intent lend --entity amount=100 --entity token=USDC --entity protocol=takara
  defi-intent parse --intent swap --entity amount=100 --entity token=SEI --context account.json
  defi-intent parse --request request.json --interactive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			p, err := s.ensurePipeline()
			if err != nil {
				return err
			}
			outcome, err := p.Process(cmd.Context(), req)
			if err != nil {
				return err
			}
			if interactive {
				outcome, err = s.answerInteractively(cmd.Context(), p, outcome)
				if err != nil {
					return err
				}
			}
			return s.emitOutcome(trimRootPath(cmd.CommandPath()), outcome)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Ask clarification questions on the terminal")
	return cmd
}

func (s *runtimeState) newResolveCommand() *cobra.Command {
	var option string
	cmd := &cobra.Command{
		Use:     "resolve <pending-id>",
		Short:   "Answer a pending clarification question",
		Example: `  defi-intent resolve clr_6f1c... --option yei-finance`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pendingID := strings.TrimSpace(args[0])
			if !id.IsPendingID(pendingID) {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid pending id %q", pendingID))
			}
			ps, err := s.pendingStore()
			if err != nil {
				return err
			}
			if ps == nil {
				return clierr.New(clierr.CodeUsage, "resolve needs the pending store; remove --no-store")
			}
			entry, err := ps.Get(pendingID)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "read pending clarification", err)
			}
			if !entry.Hit {
				return clierr.New(clierr.CodeNotFound, fmt.Sprintf("clarification not found: %s", pendingID))
			}
			if entry.Expired {
				_ = ps.Delete(pendingID)
				e := clierr.Domain(clierr.KindDisambiguation, command.ReasonExpired, "clarification has expired; submit the request again")
				e.Code = clierr.CodeStale
				return e.WithDetail("pending_id", pendingID)
			}

			p, err := s.ensurePipeline()
			if err != nil {
				return err
			}
			outcome, err := p.Resolve(cmd.Context(), entry.Pending, option)
			if err != nil {
				if clierr.HasReason(err, command.ReasonCancelled) || clierr.HasReason(err, command.ReasonExpired) {
					_ = ps.Delete(pendingID)
				}
				return err
			}
			if err := ps.Delete(pendingID); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "remove answered clarification", err)
			}
			s.log.Debug("clarification resolved", zap.String("pending_id", pendingID), zap.String("option", option))
			return s.emitOutcome(trimRootPath(cmd.CommandPath()), outcome)
		},
	}
	cmd.Flags().StringVar(&option, "option", "", "Option id to choose (or cancel)")
	_ = cmd.MarkFlagRequired("option")
	return cmd
}

func (s *runtimeState) newBatchCommand() *cobra.Command {
	var file string
	var contextPath string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process a JSON array of requests concurrently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var reqs []command.Request
			if err := readJSONFile(file, "--file", &reqs); err != nil {
				return err
			}
			if contextPath != "" {
				var pc model.ParsingContext
				if err := readJSONFile(contextPath, "--context", &pc); err != nil {
					return err
				}
				for i := range reqs {
					if reqs[i].Context == nil {
						reqs[i].Context = &pc
					}
				}
			}
			p, err := s.ensurePipeline()
			if err != nil {
				return err
			}
			outcomes, err := p.ProcessBatch(cmd.Context(), reqs)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "process batch", err)
			}

			items := make([]batchItem, 0, len(outcomes))
			var warnings []string
			for i, o := range outcomes {
				item := batchItem{Index: i, Error: o.Error}
				if o.Error == nil {
					w, err := s.persist(o)
					if err != nil {
						return err
					}
					warnings = append(warnings, w...)
				}
				switch {
				case o.Error != nil:
					item.Status = statusError
				case o.Pending != nil:
					item.Status = statusClarification
					item.PendingID = o.Pending.ID
					item.Clarification = o.Clarification
				default:
					item.Status = statusCommand
					item.Command = o.Command
				}
				items = append(items, item)
			}
			s.lastWarnings = warnings
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, warnings)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file with an array of requests")
	cmd.Flags().StringVar(&contextPath, "context", "", "JSON context applied to requests without one")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (s *runtimeState) newCommandsCommand() *cobra.Command {
	root := &cobra.Command{Use: "commands", Short: "Browse built commands"}

	var intentArg, riskArg string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List built commands, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.requireCommandStore()
			if err != nil {
				return err
			}
			filter := store.Filter{Limit: limit, RiskLevel: model.RiskLevel(strings.ToLower(riskArg))}
			if intentArg != "" {
				intent, ok := model.ParseIntent(intentArg)
				if !ok {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown intent %q", intentArg))
				}
				filter.Intent = intent
			}
			items, err := st.List(filter)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list commands", err)
			}
			s.lastStore = model.StoreStatus{Status: "read"}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	list.Flags().StringVar(&intentArg, "intent", "", "Filter by intent")
	list.Flags().StringVar(&riskArg, "risk", "", "Filter by risk level (low, medium, high)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum commands to return")

	show := &cobra.Command{
		Use:   "show <command-id>",
		Short: "Show one built command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commandID := strings.TrimSpace(args[0])
			if !id.IsCommandID(commandID) {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid command id %q", commandID))
			}
			st, err := s.requireCommandStore()
			if err != nil {
				return err
			}
			item, err := st.Get(commandID)
			if err != nil {
				if _, ok := clierr.As(err); ok {
					return err
				}
				return clierr.Wrap(clierr.CodeInternal, "read command", err)
			}
			s.lastStore = model.StoreStatus{Status: "read", Key: commandID}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), item, nil)
		},
	}

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}

func (s *runtimeState) requireCommandStore() (*store.Store, error) {
	st, err := s.commandStore()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, clierr.New(clierr.CodeUsage, "the command store is disabled; remove --no-store")
	}
	return st, nil
}

// persist records a built command or a pending clarification. Storage being
// disabled is reported as a warning, not an error.
func (s *runtimeState) persist(o command.Outcome) ([]string, error) {
	switch {
	case o.Command != nil:
		st, err := s.commandStore()
		if err != nil {
			return nil, err
		}
		if st == nil {
			s.lastStore = model.StoreStatus{Status: "disabled"}
			return nil, nil
		}
		if err := st.Save(*o.Command); err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "save command", err)
		}
		s.lastStore = model.StoreStatus{Status: "write", Key: o.Command.ID}
	case o.Pending != nil:
		ps, err := s.pendingStore()
		if err != nil {
			return nil, err
		}
		if ps == nil {
			s.lastStore = model.StoreStatus{Status: "disabled"}
			return []string{"clarification not stored; resolve is unavailable with --no-store"}, nil
		}
		if err := ps.Put(*o.Pending); err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "save pending clarification", err)
		}
		s.lastStore = model.StoreStatus{Status: "write", Key: o.Pending.ID}
	}
	return nil, nil
}

func (s *runtimeState) emitOutcome(commandPath string, o command.Outcome) error {
	warnings, err := s.persist(o)
	if err != nil {
		return err
	}
	if o.Validation != nil {
		for _, w := range o.Validation.Warnings {
			warnings = append(warnings, w.Message)
		}
	}
	result := parseResult{Risk: o.Risk}
	if o.Validation != nil {
		result.Suggestions = o.Validation.Suggestions
	}
	if o.Pending != nil {
		expires := o.Pending.ExpiresAt()
		result.Status = statusClarification
		result.PendingID = o.Pending.ID
		result.Clarification = o.Clarification
		result.ExpiresAt = &expires
	} else {
		result.Status = statusCommand
		result.Command = o.Command
	}
	s.lastWarnings = warnings
	return s.emitSuccess(commandPath, result, warnings)
}

func (s *runtimeState) answerInteractively(ctx context.Context, p *command.Pipeline, o command.Outcome) (command.Outcome, error) {
	for round := 0; o.Pending != nil && round < maxInteractiveRounds; round++ {
		choice, err := s.runner.ask(*o.Clarification)
		if err != nil {
			return command.Outcome{}, clierr.Wrap(clierr.CodeUsage, "read clarification answer", err)
		}
		o, err = p.Resolve(ctx, *o.Pending, choice)
		if err != nil {
			return command.Outcome{}, err
		}
	}
	return o, nil
}

func surveyPrompt(q model.DisambiguationOptions) (string, error) {
	labels := make([]string, 0, len(q.Options))
	for _, opt := range q.Options {
		label := opt.ID
		if opt.Label != "" && opt.Label != opt.ID {
			label = fmt.Sprintf("%s - %s", opt.ID, opt.Label)
		}
		labels = append(labels, label)
	}
	prompt := &survey.Select{
		Message: q.Question,
		Options: labels,
		Help:    fmt.Sprintf("Answer within %s or the question expires.", q.Timeout()),
	}
	for i, opt := range q.Options {
		if opt.ID == q.DefaultOption {
			prompt.Default = labels[i]
		}
	}
	var choice int
	if err := survey.AskOne(prompt, &choice); err != nil {
		return "", err
	}
	return q.Options[choice].ID, nil
}
