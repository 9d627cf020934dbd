package match

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/semantic"
	"horse.fit/bazaar/internal/verify"
)

type fakeStore struct {
	pending []db.Post
	subs    []db.Subscription
	scanned []int64
}

func (f *fakeStore) PendingPosts(ctx context.Context, limit int) ([]db.Post, error) {
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) ActiveSubscriptions(ctx context.Context) ([]db.Subscription, error) {
	return f.subs, nil
}

func (f *fakeStore) MarkPostScanned(ctx context.Context, postID int64, now time.Time) error {
	f.scanned = append(f.scanned, postID)
	return nil
}

type fakeVectors struct {
	vectors semantic.Vectors
	cached  bool
	err     error
}

func (f *fakeVectors) SubscriptionVectors(ctx context.Context, subscriptionID int64, disabledNegative []string) (semantic.Vectors, bool, error) {
	return f.vectors, f.cached, f.err
}

type fakeMatcher struct {
	decision semantic.Decision
	err      error
	calls    int
}

func (f *fakeMatcher) Match(ctx context.Context, vectors semantic.Vectors, text string) (semantic.Decision, error) {
	f.calls++
	return f.decision, f.err
}

type fakeVerifier struct {
	result verify.Result
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, description string, candidate verify.Candidate) verify.Result {
	f.calls++
	return f.result
}

type fakeLedger struct {
	notified   map[string]bool
	checkErr   error
	markErr    error
	markCalls  int
	checkCalls int
}

func ledgerKey(subscriptionID, postID, groupID int64) string {
	return fmt.Sprintf("%d/%d/%d", subscriptionID, postID, groupID)
}

func (f *fakeLedger) IsNotified(ctx context.Context, subscriptionID, postID, groupID int64) (bool, error) {
	f.checkCalls++
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.notified[ledgerKey(subscriptionID, postID, groupID)], nil
}

func (f *fakeLedger) MarkNotified(ctx context.Context, subscriptionID, postID, groupID int64, now time.Time) (bool, error) {
	f.markCalls++
	if f.markErr != nil {
		return false, f.markErr
	}
	key := ledgerKey(subscriptionID, postID, groupID)
	if f.notified == nil {
		f.notified = map[string]bool{}
	}
	if f.notified[key] {
		return false, nil
	}
	f.notified[key] = true
	return true, nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Notify(ctx context.Context, chatID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func subscription(t *testing.T, id int64, positive, negative, disabled []string) db.Subscription {
	t.Helper()
	if positive == nil {
		positive = []string{}
	}
	if negative == nil {
		negative = []string{}
	}
	if disabled == nil {
		disabled = []string{}
	}
	return db.Subscription{
		SubscriptionID:           id,
		UserChatID:               5000 + id,
		PositiveKeywords:         mustJSON(t, positive),
		NegativeKeywords:         mustJSON(t, negative),
		DisabledNegativeKeywords: mustJSON(t, disabled),
		Active:                   true,
	}
}

func pendingPost(id int64, text string) db.Post {
	return db.Post{
		PostID:    id,
		GroupID:   100,
		MessageID: id,
		Text:      text,
		PostedAt:  time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(store *fakeStore, vectors VectorSource, matcher SemanticMatcher, verifier Verifier, ledger Ledger, sender *fakeSender) *Engine {
	return NewEngine(store, vectors, matcher, verifier, ledger, sender, Options{
		LexicalGate:     0.15,
		BridgeThreshold: 0.85,
		MinPostLength:   20,
	}, zerolog.Nop())
}

func TestScanPendingMatchAndDispatchOnce(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		pending: []db.Post{pendingPost(1, "продам шоссейный велосипед в отличном состоянии")},
		subs:    []db.Subscription{subscription(t, 7, []string{"велосипед"}, nil, nil)},
	}
	verifier := &fakeVerifier{result: verify.Result{
		Match:      true,
		Confidence: 0.9,
		Stage:      verify.StageTextVerified,
		Reason:     "text describes a bicycle",
	}}
	ledger := &fakeLedger{}
	sender := &fakeSender{}
	engine := newTestEngine(store, nil, nil, verifier, ledger, sender)

	result, err := engine.ScanPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("ScanPending failed: %v", err)
	}
	if result.Posts != 1 || result.Matches != 1 || result.Dispatched != 1 || result.Errors != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sender.sent))
	}
	if len(store.scanned) != 1 || store.scanned[0] != 1 {
		t.Fatalf("scanned = %v, want [1]", store.scanned)
	}

	// A rescan of the same pair never re-notifies.
	store.pending[0].ScannedAt = nil
	result, err = engine.ScanPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("second ScanPending failed: %v", err)
	}
	if result.Dispatched != 0 {
		t.Fatalf("second pass dispatched = %d, want 0", result.Dispatched)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d notifications after rescan, want 1", len(sender.sent))
	}
}

func TestEvaluatePostNegativeTypoExcluded(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{result: verify.Result{Match: true, Stage: verify.StageTextVerified}}
	engine := newTestEngine(&fakeStore{}, nil, nil, verifier, &fakeLedger{}, &fakeSender{})

	// The typo variant misses substring containment and is caught by the
	// trigram bridge.
	post := pendingPost(1, "продам велосипед на запчастии дешево")
	sub := subscription(t, 7, []string{"велосипед"}, []string{"запчасти"}, nil)

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Result.Stage != verify.StageLexicalReject {
		t.Fatalf("Stage = %q, want lexical reject", outcomes[0].Result.Stage)
	}
	if verifier.calls != 0 {
		t.Fatalf("verifier called %d times, want 0", verifier.calls)
	}
}

func TestEvaluatePostDisabledNegativeIgnored(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{result: verify.Result{Match: true, Confidence: 0.9, Stage: verify.StageTextVerified}}
	ledger := &fakeLedger{}
	sender := &fakeSender{}
	engine := newTestEngine(&fakeStore{}, nil, nil, verifier, ledger, sender)

	post := pendingPost(1, "продам велосипед на запчасти дешево")
	sub := subscription(t, 7, []string{"велосипед"}, []string{"запчасти"}, []string{"запчасти"})

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if len(outcomes) != 1 || !outcomes[0].Result.Match {
		t.Fatalf("outcomes = %+v, want match with disabled negative", outcomes)
	}
	if !outcomes[0].Dispatched {
		t.Fatal("expected dispatch")
	}
}

func TestEvaluatePostSkipsShortAndDeleted(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{result: verify.Result{Match: true, Stage: verify.StageTextVerified}}
	engine := newTestEngine(&fakeStore{}, nil, nil, verifier, &fakeLedger{}, &fakeSender{})
	sub := subscription(t, 7, []string{"велосипед"}, nil, nil)

	short := pendingPost(1, "велосипед")
	if outcomes := engine.EvaluatePost(context.Background(), short, []db.Subscription{sub}); outcomes != nil {
		t.Fatalf("outcomes for short post = %+v, want nil", outcomes)
	}

	deleted := pendingPost(2, "продам шоссейный велосипед в отличном состоянии")
	now := time.Now()
	deleted.DeletedAt = &now
	if outcomes := engine.EvaluatePost(context.Background(), deleted, []db.Subscription{sub}); outcomes != nil {
		t.Fatalf("outcomes for deleted post = %+v, want nil", outcomes)
	}
}

func TestEvaluatePostNoPositiveKeywords(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{}
	engine := newTestEngine(&fakeStore{}, nil, nil, verifier, &fakeLedger{}, &fakeSender{})

	post := pendingPost(1, "продам шоссейный велосипед в отличном состоянии")
	sub := subscription(t, 7, nil, nil, nil)

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if outcomes[0].Result.Stage != verify.StageLexicalReject {
		t.Fatalf("Stage = %q, want lexical reject for empty positive list", outcomes[0].Result.Stage)
	}
}

func TestEvaluatePostBelowLexicalGate(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{}
	engine := newTestEngine(&fakeStore{}, nil, nil, verifier, &fakeLedger{}, &fakeSender{})

	post := pendingPost(1, "отдам старый шкаф и кресло самовывоз из центра")
	sub := subscription(t, 7, []string{"велосипед"}, nil, nil)

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if outcomes[0].Result.Stage != verify.StageLexicalReject {
		t.Fatalf("Stage = %q, want lexical reject", outcomes[0].Result.Stage)
	}
	if verifier.calls != 0 {
		t.Fatalf("verifier called %d times, want 0", verifier.calls)
	}
}

func TestEvaluatePostSemanticBlockIsTerminal(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectors{cached: true, vectors: semantic.Vectors{
		Negative: []semantic.KeywordVector{{Keyword: "запчасти", Vector: []float64{1}}},
	}}
	matcher := &fakeMatcher{decision: semantic.Decision{BlockedBy: "запчасти"}}
	verifier := &fakeVerifier{}
	engine := newTestEngine(&fakeStore{}, vectors, matcher, verifier, &fakeLedger{}, &fakeSender{})

	post := pendingPost(1, "продам шоссейный велосипед в отличном состоянии")
	sub := subscription(t, 7, []string{"велосипед"}, []string{"запчасти"}, nil)

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if outcomes[0].Result.Stage != verify.StageSemanticBlock {
		t.Fatalf("Stage = %q, want semantic block", outcomes[0].Result.Stage)
	}
	if verifier.calls != 0 {
		t.Fatalf("verifier called %d times, want 0", verifier.calls)
	}
}

func TestEvaluatePostSemanticRejectIsTerminal(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectors{cached: true, vectors: semantic.Vectors{
		Positive: []semantic.KeywordVector{{Keyword: "велосипед", Vector: []float64{1}}},
	}}
	matcher := &fakeMatcher{decision: semantic.Decision{Match: false, Score: 0.2}}
	verifier := &fakeVerifier{}
	engine := newTestEngine(&fakeStore{}, vectors, matcher, verifier, &fakeLedger{}, &fakeSender{})

	post := pendingPost(1, "продам шоссейный велосипед в отличном состоянии")
	sub := subscription(t, 7, []string{"велосипед"}, nil, nil)

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if outcomes[0].Result.Stage != verify.StageSemanticReject {
		t.Fatalf("Stage = %q, want semantic reject", outcomes[0].Result.Stage)
	}
	if verifier.calls != 0 {
		t.Fatalf("verifier called %d times, want 0", verifier.calls)
	}
}

func TestEvaluatePostSemanticMatchStillVerified(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectors{cached: true, vectors: semantic.Vectors{
		Positive: []semantic.KeywordVector{{Keyword: "велосипед", Vector: []float64{1}}},
	}}
	matcher := &fakeMatcher{decision: semantic.Decision{Match: true, Score: 0.8}}
	verifier := &fakeVerifier{result: verify.Result{Match: false, Confidence: 0.9, Stage: verify.StageRejected, Reason: "different item"}}
	engine := newTestEngine(&fakeStore{}, vectors, matcher, verifier, &fakeLedger{}, &fakeSender{})

	post := pendingPost(1, "продам шоссейный велосипед в отличном состоянии")
	sub := subscription(t, 7, []string{"велосипед"}, nil, nil)

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if verifier.calls != 1 {
		t.Fatalf("verifier called %d times, want 1", verifier.calls)
	}
	if outcomes[0].Result.Match {
		t.Fatal("cascade rejection must override the semantic match")
	}
}

func TestEvaluatePostVectorLoadFailureDegrades(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectors{err: fmt.Errorf("db down")}
	matcher := &fakeMatcher{}
	verifier := &fakeVerifier{result: verify.Result{Match: true, Confidence: 0.9, Stage: verify.StageTextVerified}}
	engine := newTestEngine(&fakeStore{}, vectors, matcher, verifier, &fakeLedger{}, &fakeSender{})

	post := pendingPost(1, "продам шоссейный велосипед в отличном состоянии")
	sub := subscription(t, 7, []string{"велосипед"}, nil, nil)

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if !outcomes[0].Result.Match {
		t.Fatalf("outcome = %+v, want degraded match via cascade", outcomes[0])
	}
	if matcher.calls != 0 {
		t.Fatalf("matcher called %d times after vector load failure, want 0", matcher.calls)
	}
}

func TestDispatchWithheldOnLedgerCheckFailure(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{result: verify.Result{Match: true, Confidence: 0.9, Stage: verify.StageTextVerified}}
	ledger := &fakeLedger{checkErr: fmt.Errorf("db down")}
	sender := &fakeSender{}
	engine := newTestEngine(&fakeStore{}, nil, nil, verifier, ledger, sender)

	post := pendingPost(1, "продам шоссейный велосипед в отличном состоянии")
	sub := subscription(t, 7, []string{"велосипед"}, nil, nil)

	outcomes := engine.EvaluatePost(context.Background(), post, []db.Subscription{sub})
	if outcomes[0].Dispatched {
		t.Fatal("dispatch must be withheld when the ledger cannot be checked")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent %d notifications, want 0", len(sender.sent))
	}
}

func TestEvaluatePostSubscriptionIsolation(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{result: verify.Result{Match: true, Confidence: 0.9, Stage: verify.StageTextVerified}}
	ledger := &fakeLedger{}
	sender := &fakeSender{}
	engine := newTestEngine(&fakeStore{}, nil, nil, verifier, ledger, sender)

	post := pendingPost(1, "продам шоссейный велосипед в отличном состоянии")
	subs := []db.Subscription{
		{SubscriptionID: 1, UserChatID: 10, PositiveKeywords: json.RawMessage(`{bad`), NegativeKeywords: json.RawMessage(`[]`), DisabledNegativeKeywords: json.RawMessage(`[]`)},
		subscription(t, 2, []string{"велосипед"}, nil, nil),
	}

	outcomes := engine.EvaluatePost(context.Background(), post, subs)
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	if outcomes[0].Result.Stage != verify.StageError {
		t.Fatalf("outcomes[0].Stage = %q, want error", outcomes[0].Result.Stage)
	}
	if !outcomes[1].Result.Match || !outcomes[1].Dispatched {
		t.Fatalf("outcomes[1] = %+v, want dispatched match", outcomes[1])
	}
}
