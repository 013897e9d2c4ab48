package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainRule     = "beastmode/rule/v1"
	DomainDispatch = "beastmode/dispatch/v1"
)

// ruleIDLength is the number of hex characters kept in a RuleID.
// 64 bits is ample for a rule library and keeps ids readable in the CLI.
const ruleIDLength = 16

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NewRuleID computes the content-addressed id of a rule from its topic and
// pattern key. Two rules with the same id are duplicates by definition.
func NewRuleID(topic string, pattern []Token) RuleID {
	data := []byte(topic + "\x00" + PatternKey(pattern))
	return RuleID("r-" + hashWithDomain(DomainRule, data)[:ruleIDLength])
}

// DispatchKey computes the identity of an action: the workflow plus its
// resolved inputs. A confirmation only authorizes the dispatch whose key it
// carries, so changing any input invalidates a recorded confirmation.
func DispatchKey(workflowID string, inputs Inputs) (string, error) {
	canonical, err := MarshalCanonical(inputs)
	if err != nil {
		return "", fmt.Errorf("DispatchKey: failed to marshal: %w", err)
	}
	data := append([]byte(workflowID+"\x00"), canonical...)
	return hashWithDomain(DomainDispatch, data), nil
}

// MustDispatchKey is like DispatchKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDispatchKey(workflowID string, inputs Inputs) string {
	key, err := DispatchKey(workflowID, inputs)
	if err != nil {
		panic(err)
	}
	return key
}
