package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/flashgrep/flashgrep/internal/ferrors"
)

// CanonicalTrigger is the trigger name every alias normalizes to.
const CanonicalTrigger = "bootstrap_skill"

// triggerAliases maps every accepted input alias to the canonical
// trigger. Alias normalization is transport-agnostic: whichever
// transport receives the call, the same table applies (§4.11).
var triggerAliases = map[string]string{
	"bootstrap_skill":    CanonicalTrigger,
	"bootstrap":          CanonicalTrigger,
	"activate_skill":     CanonicalTrigger,
	"activate_flashgrep": CanonicalTrigger,
	"load_skill":         CanonicalTrigger,
	"init_skill":         CanonicalTrigger,
	"flashgrep_skill":    CanonicalTrigger,
}

// skillBody is returned in full on the first bootstrap call per process,
// then elided on every subsequent call (§4.11 "idempotent per server
// process; repeated calls elide the skill body").
const skillBody = `Use flashgrep for code search instead of ad hoc file scanning:
query for ranked text/symbol search, glob for file discovery, get_slice
or get_symbol for bounded reads, write_code for precondition-guarded
edits. Prefer query over read_code for anything but a known line range.`

// PreferredToolOrdering is the suggested tool-preference order returned
// with the bootstrap response, so a caller prefers the indexed surface
// over raw filesystem tools when both are available.
var PreferredToolOrdering = []string{"query", "glob", "get_symbol", "get_slice", "read_code"}

// FallbackGateConditions name the situations where a caller should fall
// back to unindexed tools despite flashgrep being bootstrapped.
var FallbackGateConditions = []string{"not_indexed", "io_error", "session_closed"}

// EnforcementMode describes how strongly the bootstrap guidance should
// be followed once injected.
const EnforcementMode = "advisory"

// SkillSourcePath is a conventional path a caller can read the full
// skill body from, independent of the bootstrap RPC response.
const SkillSourcePath = "SKILL.md"

// BootstrapParams is the bootstrap_skill method's input.
type BootstrapParams struct {
	Trigger string `json:"trigger"`
}

// BootstrapResult is the bootstrap_skill method's output (§4.11).
type BootstrapResult struct {
	CanonicalTrigger        string   `json:"canonical_trigger"`
	Status                  string   `json:"status"` // "injected" | "already_injected"
	SkillSourcePath         string   `json:"skill_source_path"`
	SkillHash               string   `json:"skill_hash"`
	SkillBody               string   `json:"skill_body,omitempty"`
	PreferredToolOrdering   []string `json:"preferred_tool_ordering"`
	FallbackGateConditions  []string `json:"fallback_gate_conditions"`
	EnforcementMode         string   `json:"enforcement_mode"`
}

var skillHash = func() string {
	sum := sha256.Sum256([]byte(skillBody))
	return hex.EncodeToString(sum[:])
}()

// bootstrapState tracks whether the skill has already been injected in
// this server process, independent of which connection or alias asked.
type bootstrapState struct {
	mu       sync.Mutex
	injected bool
}

func newBootstrapState() *bootstrapState {
	return &bootstrapState{}
}

// Bootstrap normalizes trigger against the alias table and returns the
// bootstrap response, injecting the skill body only on the first call
// made against this process.
func (b *bootstrapState) Bootstrap(p BootstrapParams) (*BootstrapResult, error) {
	canonical, ok := triggerAliases[normalizeTrigger(p.Trigger)]
	if !ok {
		return nil, ferrors.New(ferrors.ErrCodeInvalidTrigger, "unrecognized bootstrap trigger: "+p.Trigger, nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	result := &BootstrapResult{
		CanonicalTrigger:       canonical,
		SkillSourcePath:        SkillSourcePath,
		SkillHash:              skillHash,
		PreferredToolOrdering:  PreferredToolOrdering,
		FallbackGateConditions: FallbackGateConditions,
		EnforcementMode:        EnforcementMode,
	}

	if b.injected {
		result.Status = "already_injected"
		return result, nil
	}

	b.injected = true
	result.Status = "injected"
	result.SkillBody = skillBody
	return result, nil
}

func normalizeTrigger(trigger string) string {
	return strings.ToLower(strings.TrimSpace(trigger))
}
