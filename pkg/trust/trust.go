// Package trust is the approval store guarding hook execution. It
// decides, per hook source, whether a hook may run without prompting,
// and records content-hash-pinned approvals so that any edit to an
// already-approved hook script invalidates the approval.
package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/ollm-run/ollmcore/pkg/ollmerr"
	"github.com/ollm-run/ollmcore/pkg/types"
)

// hashPrefix tags stored digests with the algorithm that produced them.
const hashPrefix = "sha256:"

// HashContent returns the prefixed hex sha256 digest of a hook's content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// ApprovalKey returns the identity a hook's approval is stored under:
// its script path when it has one, otherwise a synthetic key derived
// from command, args, source, and extension name.
func ApprovalKey(hook types.Hook) string {
	if hook.SourcePath != "" {
		return hook.SourcePath
	}
	return strings.Join(append([]string{hook.Command}, hook.Args...), " ") +
		"|" + string(hook.Source) + "|" + hook.ExtensionName
}

// HashFor computes the trust hash for a hook given its current script
// content. Hooks without a script file are hashed over their synthetic
// identity instead, so a changed command line also invalidates trust.
func HashFor(hook types.Hook, scriptContent []byte) string {
	if hook.SourcePath != "" {
		return HashContent(scriptContent)
	}
	return HashContent([]byte(ApprovalKey(hook)))
}

// Store holds approvals and the workspace-trust setting. It is
// process-wide and single-writer; concurrent writes serialise on its
// mutex and readers never observe a torn approval.
type Store struct {
	mu             sync.Mutex
	trustWorkspace bool
	approvals      map[string]types.HookApproval // keyed by ApprovalKey
}

// New creates a Store. trustWorkspace mirrors the user's
// "trust_workspace" setting, which auto-trusts workspace hooks without
// an explicit approval.
func New(trustWorkspace bool) *Store {
	return &Store{trustWorkspace: trustWorkspace, approvals: make(map[string]types.HookApproval)}
}

// IsTrusted reports whether a hook may run as-is given the hash of its
// current content. Builtin and user hooks are always trusted. Workspace
// hooks are trusted only when trust_workspace is enabled. Downloaded
// and extension hooks always require an explicit, hash-matching
// approval.
func (s *Store) IsTrusted(hook types.Hook, contentHash string) bool {
	switch hook.Source {
	case types.HookSourceBuiltin, types.HookSourceUser:
		return true
	case types.HookSourceWorkspace:
		if s.trustWorkspace {
			return true
		}
	}
	return s.hasMatchingApproval(hook, contentHash)
}

func (s *Store) hasMatchingApproval(hook types.Hook, contentHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[ApprovalKey(hook)]
	if !ok {
		return false
	}
	return approval.Hash == contentHash
}

// Approve records that hook's current content hash is trusted, stamped
// with the given approver identity and the current time.
func (s *Store) Approve(hook types.Hook, contentHash, approvedBy string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[ApprovalKey(hook)] = types.HookApproval{
		Source:     ApprovalKey(hook),
		Hash:       contentHash,
		ApprovedAt: now,
		ApprovedBy: approvedBy,
	}
}

// Revoke removes any recorded approval for hook.
func (s *Store) Revoke(hook types.Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.approvals, ApprovalKey(hook))
}

// Approvals returns a snapshot of all recorded approvals, for persistence.
func (s *Store) Approvals() []types.HookApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.HookApproval, 0, len(s.approvals))
	for _, a := range s.approvals {
		out = append(out, a)
	}
	return out
}

// LoadApprovals replaces the current approval set, used when restoring
// trusted-hooks.json at startup.
func (s *Store) LoadApprovals(approvals []types.HookApproval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals = make(map[string]types.HookApproval, len(approvals))
	for _, a := range approvals {
		s.approvals[a.Source] = a
	}
}

// Authorize is the call site the Hook Runner uses before invoking a
// hook process: it trusts, or returns a HookNotApproved error
// identifying exactly which hook failed the check.
func (s *Store) Authorize(hook types.Hook, scriptContent []byte) error {
	hash := HashFor(hook, scriptContent)
	if s.IsTrusted(hook, hash) {
		return nil
	}
	return ollmerr.New(ollmerr.HookNotApproved, "hook "+hook.Name+" from source "+string(hook.Source)+" is not approved")
}
