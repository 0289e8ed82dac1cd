package safety

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joestump/mcp-shell-server/internal/history"
)

// Decision is the Safety Evaluator's final verdict for a command.
type Decision string

const (
	DecisionAllow                Decision = "ALLOW"
	DecisionDeny                 Decision = "DENY"
	DecisionNeedUserConfirm      Decision = "NEED_USER_CONFIRM"
	DecisionNeedAssistantConfirm Decision = "NEED_ASSISTANT_CONFIRM"
	DecisionNeedMoreHistory      Decision = "NEED_MORE_HISTORY"
)

// SecurityMode selects the active safety posture, matching the
// `security_mode` field of the Safety Restrictions data model.
type SecurityMode string

const (
	SecurityPermissive   SecurityMode = "permissive"
	SecurityModerate     SecurityMode = "moderate"
	SecurityRestrictive  SecurityMode = "restrictive"
	SecurityCustom       SecurityMode = "custom"
	SecurityEnhanced     SecurityMode = "enhanced"
	SecurityEnhancedFast SecurityMode = "enhanced-fast"
)

// sensitiveDirectories are working directories that bias the safety
// level upward under enhanced modes.
var sensitiveDirectories = map[string]struct{}{
	"/etc": {}, "/boot": {}, "/sys": {}, "/proc": {}, "/usr": {}, "/var": {},
}

var escalationPattern = regexp.MustCompile(`(^|[\s;&|])(sudo|su|doas)\b|\bsetuid\b`)

// EvaluatorRequest is what an ExternalEvaluator is asked to judge.
type EvaluatorRequest struct {
	Command           string
	WorkingDirectory  string
	Comment           string
	SafetyLevel       int
	ResubmissionCount int
	RecentHistory     []history.Entry
}

// EvaluateOptions carries the caller-supplied context around a single
// evaluate call: an optional free-text comment surfaced to the external
// evaluator, and an explicit user confirmation that skips the auto-deny
// for a previously-denied command and turns a NEED_USER_CONFIRM or
// NEED_ASSISTANT_CONFIRM answer into ALLOW. The external evaluator is
// still queried on a confirmed call.
type EvaluateOptions struct {
	Comment          string
	ForceUserConfirm bool
}

// EvaluatorResult is an ExternalEvaluator's answer.
type EvaluatorResult struct {
	Decision              Decision
	Reasoning             string
	Confidence            int
	SuggestedAlternatives []string
	RequestedHistoryDepth int
}

// ExternalEvaluator is the pluggable LLM-backed second stage. It is only
// consulted when the Classifier returns llm_required. Implementations
// must return an error rather than guess when they cannot produce a
// confident verdict — the Evaluator treats any error as fail-closed.
type ExternalEvaluator interface {
	Evaluate(ctx context.Context, req EvaluatorRequest) (EvaluatorResult, error)
}

// Evaluator is the Safety Evaluation Pipeline: classifier gate,
// contextual gates, then an optional external LLM evaluator. It never
// returns ALLOW for a command the classifier marked llm_required unless
// an external evaluator is wired and answers within its timeout with
// ALLOW, or, on a call made with ForceUserConfirm, with NEED_USER_CONFIRM
// or NEED_ASSISTANT_CONFIRM.
type Evaluator struct {
	classifier   *Classifier
	external     ExternalEvaluator
	ring         *history.Ring
	mode         SecurityMode
	timeout      time.Duration
	restrictions *RestrictionsStore
}

// NewEvaluator builds an Evaluator. external may be nil, in which case
// any llm_required command is denied outright — there is nothing else
// that could establish safety. timeout is clamped to [1s, 60s] per the
// evaluator's configurable range; zero selects the 3s default.
func NewEvaluator(classifier *Classifier, external ExternalEvaluator, ring *history.Ring, mode SecurityMode, timeout time.Duration) *Evaluator {
	switch {
	case timeout <= 0:
		timeout = 3 * time.Second
	case timeout < time.Second:
		timeout = time.Second
	case timeout > 60*time.Second:
		timeout = 60 * time.Second
	}
	if mode == "" {
		mode = SecurityModerate
	}
	return &Evaluator{
		classifier: classifier,
		external:   external,
		ring:       ring,
		mode:       mode,
		timeout:    timeout,
	}
}

// AttachRestrictions wires a live RestrictionsStore into the evaluator.
// Once attached, the store's SecurityMode supersedes the mode the
// Evaluator was constructed with, and its allowed/blocked command lists
// gate evaluation before the classifier runs. Safe to call once at
// startup; nil-safe if never called.
func (ev *Evaluator) AttachRestrictions(store *RestrictionsStore) {
	ev.restrictions = store
}

// currentMode returns the live SecurityMode, preferring the attached
// RestrictionsStore (which security_set_restrictions can replace at
// runtime) over the mode fixed at construction.
func (ev *Evaluator) currentMode() SecurityMode {
	if ev.restrictions != nil {
		if r := ev.restrictions.Get(); r.SecurityMode != "" {
			return r.SecurityMode
		}
	}
	return ev.mode
}

// enhancedModeEnabled reports whether contextual gates and the external
// evaluator's full context window apply.
func (ev *Evaluator) enhancedModeEnabled() bool {
	mode := ev.currentMode()
	return mode == SecurityEnhanced || mode == SecurityEnhancedFast
}

// classifierEnabled reports whether rule-table pre-filtering runs at
// all. It defaults off for the enhanced modes — every command is then
// routed to the external evaluator — except enhanced-fast, which keeps
// pre-filtering enabled for its low-latency path.
func (ev *Evaluator) classifierEnabled() bool {
	return ev.currentMode() != SecurityEnhanced
}

// Evaluate classifies command and, if needed, escalates to the external
// evaluator. executionID is not consulted: resubmission tracking looks
// up the most recent history entry with the same command text and
// counts against that entry. opts.ForceUserConfirm marks this attempt
// as already confirmed by the user: it skips the auto-deny on
// resubmission of a previously-denied command and, if the external
// evaluator answers NEED_USER_CONFIRM or NEED_ASSISTANT_CONFIRM,
// resolves straight to ALLOW. opts.Comment is not interpreted here beyond forwarding it
// to the external evaluator as extra context.
func (ev *Evaluator) Evaluate(ctx context.Context, executionID, command, workdir string, opts EvaluateOptions) (EvaluatorResult, error) {
	if prior, ok := ev.ring.FindLastByCommand(command); ok && prior.SafetyClassification == string(DecisionDeny) {
		if !opts.ForceUserConfirm {
			ev.ring.IncrementResubmission(prior.ExecutionID)
			return EvaluatorResult{
				Decision:  DecisionDeny,
				Reasoning: fmt.Sprintf("command was previously denied (resubmission #%d); denying without re-evaluation", prior.ResubmissionCount+1),
			}, nil
		}
	}

	if ev.restrictions != nil {
		r := ev.restrictions.Get()
		if matchesAny(r.BlockedCommands, command) {
			return EvaluatorResult{
				Decision:  DecisionDeny,
				Reasoning: "command matches an operator-configured blocked_commands entry",
			}, nil
		}
		if len(r.AllowedCommands) > 0 && !matchesAny(r.AllowedCommands, command) {
			return EvaluatorResult{
				Decision:  DecisionDeny,
				Reasoning: "command does not match any operator-configured allowed_commands entry",
			}, nil
		}
	}

	var class Classification
	var level int
	var desc string
	if ev.classifierEnabled() {
		class, level, desc = ev.classifier.Classify(command)
	} else {
		class, level, desc = ClassificationLLMRequired, 0, ""
	}

	if ev.enhancedModeEnabled() && (inSensitiveDirectory(workdir) || looksLikeEscalation(command)) {
		class = ClassificationLLMRequired
		if level < 5 {
			level = 5
		}
		if desc == "" {
			desc = "elevated to llm_required: sensitive directory or privilege escalation heuristic matched"
		}
	}

	if class == ClassificationBasicSafe {
		return EvaluatorResult{
			Decision:  DecisionAllow,
			Reasoning: desc,
		}, nil
	}

	if ev.external == nil {
		return EvaluatorResult{
			Decision:  DecisionDeny,
			Reasoning: "no safety level rule matched and no external evaluator is available to assess this command; denying by default",
		}, nil
	}

	req := EvaluatorRequest{
		Command:          command,
		WorkingDirectory: workdir,
		Comment:          opts.Comment,
		SafetyLevel:      level,
		RecentHistory:    ev.ring.FindSimilar(command),
	}
	if prior, ok := ev.ring.FindLastByCommand(command); ok {
		req.ResubmissionCount = prior.ResubmissionCount
	}

	evalCtx, cancel := context.WithTimeout(ctx, ev.timeout)
	defer cancel()

	result, err := ev.external.Evaluate(evalCtx, req)
	if err != nil {
		return EvaluatorResult{
			Decision:  DecisionDeny,
			Reasoning: fmt.Sprintf("external safety evaluator failed: %v", err),
		}, nil
	}

	switch result.Decision {
	case DecisionAllow, DecisionDeny, DecisionNeedUserConfirm, DecisionNeedAssistantConfirm, DecisionNeedMoreHistory:
		if opts.ForceUserConfirm && (result.Decision == DecisionNeedUserConfirm || result.Decision == DecisionNeedAssistantConfirm) {
			result.Reasoning = fmt.Sprintf("user-confirmed override of %s: %s", result.Decision, result.Reasoning)
			result.Decision = DecisionAllow
		}
		return result, nil
	default:
		return EvaluatorResult{
			Decision:  DecisionDeny,
			Reasoning: fmt.Sprintf("external safety evaluator returned an unrecognized decision %q", result.Decision),
		}, nil
	}
}

func inSensitiveDirectory(workdir string) bool {
	clean := filepath.Clean(workdir)
	for dir := range sensitiveDirectories {
		if clean == dir || strings.HasPrefix(clean, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func looksLikeEscalation(command string) bool {
	return escalationPattern.MatchString(strings.ToLower(command))
}
