package risk

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"ChainGuard/deploy/seed"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/ledger"
)

const (
	phishingAddr = "0x1234abcd5678efgh9012ijkl3456mnop7890qrst"
	rugPullAddr  = "0xabcd1234efgh5678ijkl9012mnop3456qrst7890"
	walletOne    = "0x1111aaaa2222bbbb3333cccc4444dddd5555eeee"
	walletTwo    = "0x2222bbbb3333cccc4444dddd5555eeee6666ffff"
	walletThree  = "0x3333cccc4444dddd5555eeee6666ffff7777gggg"
)

func demoStore(t *testing.T) *ledger.MemoryStore {
	t.Helper()
	ds, err := ledger.ParseDataset(seed.Demo)
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	store := ledger.NewMemoryStore()
	if err := ds.Apply(context.Background(), store); err != nil {
		t.Fatalf("apply seed: %v", err)
	}
	return store
}

func TestAssessRegistryAddressesAreHigh(t *testing.T) {
	store := demoStore(t)
	engine := NewEngine(store)
	ctx := context.Background()

	ds, _ := ledger.ParseDataset(seed.Demo)
	for _, entry := range ds.ScamEntries {
		result, err := engine.Assess(ctx, entry.Address)
		if err != nil {
			t.Fatalf("assess %s: %v", entry.Address, err)
		}
		if result.Level != LevelHigh || result.Score != entry.RiskScore {
			t.Fatalf("%s: expected High/%v, got %s/%v", entry.Address, entry.RiskScore, result.Level, result.Score)
		}
	}
}

func TestAssessPhishingExample(t *testing.T) {
	engine := NewEngine(demoStore(t))
	result, err := engine.Assess(context.Background(), phishingAddr)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if result.Score != 0.95 || result.Level != LevelHigh {
		t.Fatalf("unexpected result %+v", result)
	}
	want := "Known phishing scam address reported by Chainalysis, Etherscan"
	if result.Justification != want {
		t.Fatalf("justification = %q", result.Justification)
	}
	if result.Findings[0].Kind != FindingKnownScam {
		t.Fatalf("first finding should be known_scam, got %s", result.Findings[0].Kind)
	}
}

func TestAssessLowRegistryScoreStillHigh(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	_ = store.PutScamEntry(ctx, ledger.ScamEntry{Address: "0xlow", ScamType: "spam", RiskScore: 0.3, ReportedBy: []string{"A"}})

	result, err := NewEngine(store).Assess(ctx, "0xlow")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if result.Level != LevelHigh || result.Score != 0.3 {
		t.Fatalf("registry entries must be High with stored score, got %+v", result)
	}
}

func TestAssessNeighborIsFixedHigh(t *testing.T) {
	engine := NewEngine(demoStore(t))
	result, err := engine.Assess(context.Background(), walletTwo)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if result.Score != 0.7 || result.Level != LevelHigh {
		t.Fatalf("unexpected neighbor result %+v", result)
	}
	if result.Justification != "Connected to known rug_pull scam address" {
		t.Fatalf("justification = %q", result.Justification)
	}

	kinds := make([]FindingKind, 0, len(result.Findings))
	for _, f := range result.Findings {
		kinds = append(kinds, f.Kind)
	}
	want := []FindingKind{FindingScamNeighbor, FindingTransactionPattern, FindingTransactionPattern}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("findings = %v, want %v", kinds, want)
	}
	if result.Findings[0].ConnectedAddress != rugPullAddr {
		t.Fatalf("unexpected connected address %q", result.Findings[0].ConnectedAddress)
	}
}

func TestAssessPatternsTakeMaximum(t *testing.T) {
	engine := NewEngine(demoStore(t))
	result, err := engine.Assess(context.Background(), walletOne)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if result.Score != 0.8 || result.Level != LevelHigh {
		t.Fatalf("unexpected result %+v", result)
	}
	want := "Risk factors detected: Interaction with known scam addresses (score: 0.8)"
	if result.Justification != want {
		t.Fatalf("justification = %q", result.Justification)
	}
	interactions := result.Findings[0].Interactions
	if len(interactions) != 1 || interactions[0].ScamType != "phishing" || interactions[0].ScamAddress != phishingAddr {
		t.Fatalf("unexpected interactions %+v", interactions)
	}
}

func TestAssessWalletRiskCountsOnlyAbovePatterns(t *testing.T) {
	base := time.Date(2025, 5, 10, 14, 0, 0, 0, time.UTC)
	build := func(walletRisk float64) *ledger.MemoryStore {
		store := ledger.NewMemoryStore()
		ctx := context.Background()
		_ = store.PutWallet(ctx, ledger.Wallet{Address: "0xburst", RiskScore: walletRisk})
		_ = store.PutTransaction(ctx, ledger.Transaction{Hash: "0xt1", From: "0xburst", To: "0xb", Timestamp: base.Format(time.RFC3339)})
		_ = store.PutTransaction(ctx, ledger.Transaction{Hash: "0xt2", From: "0xburst", To: "0xc", Timestamp: base.Add(10 * time.Second).Format(time.RFC3339)})
		return store
	}

	cases := []struct {
		walletRisk    float64
		score         float64
		level         Level
		justification string
	}{
		{
			walletRisk:    0.2,
			score:         0.75,
			level:         LevelMedium,
			justification: "Risk factors detected: Multiple high-value transfers in short time period (score: 0.75)",
		},
		{
			walletRisk:    0.75,
			score:         0.75,
			level:         LevelMedium,
			justification: "Risk factors detected: Multiple high-value transfers in short time period (score: 0.75)",
		},
		{
			walletRisk:    0.9,
			score:         0.9,
			level:         LevelHigh,
			justification: "Risk factors detected: Multiple high-value transfers in short time period (score: 0.75); Historical wallet behavior indicates risk (score: 0.9)",
		},
	}
	for _, tc := range cases {
		result, err := NewEngine(build(tc.walletRisk)).Assess(context.Background(), "0xburst")
		if err != nil {
			t.Fatalf("assess: %v", err)
		}
		if result.Score != tc.score || result.Level != tc.level {
			t.Fatalf("wallet %v: got %v/%s, want %v/%s", tc.walletRisk, result.Score, result.Level, tc.score, tc.level)
		}
		if result.Justification != tc.justification {
			t.Fatalf("wallet %v: justification = %q", tc.walletRisk, result.Justification)
		}
	}
}

func TestAssessWalletRiskOnly(t *testing.T) {
	engine := NewEngine(demoStore(t))
	result, err := engine.Assess(context.Background(), walletThree)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if result.Score != 0.05 || result.Level != LevelLow {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAssessUnknownAddressIsLow(t *testing.T) {
	engine := NewEngine(demoStore(t))
	result, err := engine.Assess(context.Background(), "0xdeadbeef")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if result.Score != 0 || result.Level != LevelLow {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Justification != "No significant risk factors detected" {
		t.Fatalf("justification = %q", result.Justification)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(result.Findings))
	}
}

func TestAssessMediumBand(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	_ = store.PutWallet(ctx, ledger.Wallet{Address: "0xmid", RiskScore: 0.6})

	result, err := NewEngine(store).Assess(ctx, "0xmid")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if result.Level != LevelMedium {
		t.Fatalf("expected Medium, got %s", result.Level)
	}

	strict, err := NewEngine(store, WithThresholds(Thresholds{High: 0.9, Medium: 0.7})).Assess(ctx, "0xmid")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if strict.Level != LevelLow {
		t.Fatalf("expected Low with raised thresholds, got %s", strict.Level)
	}
}

func TestAssessIsIdempotent(t *testing.T) {
	engine := NewEngine(demoStore(t))
	ctx := context.Background()
	for _, addr := range []string{phishingAddr, walletOne, walletTwo, walletThree, "0xunknown"} {
		first, err := engine.Assess(ctx, addr)
		if err != nil {
			t.Fatalf("assess: %v", err)
		}
		second, err := engine.Assess(ctx, addr)
		if err != nil {
			t.Fatalf("assess: %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("assessments differ for %s", addr)
		}
	}
}

func TestAssessRejectsEmptyAddress(t *testing.T) {
	_, err := NewEngine(ledger.NewMemoryStore()).Assess(context.Background(), "  ")
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestScanRapidTransferWindow(t *testing.T) {
	scanner := NewScanner(ledger.NewMemoryStore(), nil, 0)
	base := time.Date(2025, 5, 10, 14, 0, 0, 0, time.UTC)
	build := func(gap time.Duration) []ledger.Transaction {
		// 故意倒序，扫描前需要排序。
		return []ledger.Transaction{
			{Hash: "0x2", From: "0xa", To: "0xb", Timestamp: base.Add(gap).Format(time.RFC3339)},
			{Hash: "0x1", From: "0xb", To: "0xa", Timestamp: base.Format(time.RFC3339)},
		}
	}

	cases := []struct {
		gap   time.Duration
		rapid bool
	}{
		{gap: 30 * time.Second, rapid: true},
		{gap: 59 * time.Second, rapid: true},
		{gap: 60 * time.Second, rapid: false},
		{gap: 120 * time.Second, rapid: false},
	}
	for _, tc := range cases {
		report, err := scanner.Scan(context.Background(), "0xa", build(tc.gap))
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		got := len(report.DetectedPatterns) == 1 && report.DetectedPatterns[0].Name == PatternRapidTransfers
		if got != tc.rapid || report.RiskAssessment != tc.rapid {
			t.Fatalf("gap %s: rapid=%v, want %v", tc.gap, got, tc.rapid)
		}
		if report.TransactionCount != 2 {
			t.Fatalf("unexpected count %d", report.TransactionCount)
		}
	}
}

func TestScanMalformedTimestamp(t *testing.T) {
	scanner := NewScanner(ledger.NewMemoryStore(), nil, time.Minute)
	_, err := scanner.Scan(context.Background(), "0xa", []ledger.Transaction{
		{Hash: "0x1", From: "0xa", To: "0xb", Timestamp: "10/05/2025"},
	})
	if xerrors.CodeOf(err) != CodeInvalidTimestamp {
		t.Fatalf("expected INVALID_TIMESTAMP, got %v", err)
	}
}

func TestCheckScamStatus(t *testing.T) {
	classifier := NewClassifier(demoStore(t))
	ctx := context.Background()

	status, err := classifier.CheckScamStatus(ctx, phishingAddr)
	if err != nil || !status.IsScam || status.Details.ScamType != "phishing" {
		t.Fatalf("unexpected status %+v err=%v", status, err)
	}

	status, err = classifier.CheckScamStatus(ctx, walletTwo)
	if err != nil || status.IsScam || !status.IsConnectedToScam || status.ConnectedScamAddress != rugPullAddr {
		t.Fatalf("unexpected neighbor status %+v err=%v", status, err)
	}

	status, err = classifier.CheckScamStatus(ctx, walletOne)
	if err != nil || status.IsScam || status.IsConnectedToScam {
		t.Fatalf("unexpected clean status %+v err=%v", status, err)
	}
}

func TestAddressDetailsAndConnections(t *testing.T) {
	classifier := NewClassifier(demoStore(t))
	ctx := context.Background()

	details, err := classifier.AddressDetails(ctx, walletTwo)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Wallet == nil || details.Wallet.TotalTransactions != 27 || len(details.RelatedTransactions) != 2 {
		t.Fatalf("unexpected details %+v", details)
	}

	unknown, err := classifier.AddressDetails(ctx, "0xnobody")
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if unknown.Wallet != nil || len(unknown.RelatedTransactions) != 0 {
		t.Fatalf("expected empty details, got %+v", unknown)
	}

	connected, err := classifier.ConnectedAddresses(ctx, "0xnobody")
	if err != nil || len(connected) != 0 {
		t.Fatalf("expected no connections, got %v err=%v", connected, err)
	}
}

func TestAnalyzeBehavior(t *testing.T) {
	engine := NewEngine(demoStore(t))
	ctx := context.Background()

	report, err := engine.AnalyzeBehavior(ctx, walletTwo)
	if err != nil {
		t.Fatalf("behavior: %v", err)
	}
	if len(report.DetectedPatterns) != 1 || report.DetectedPatterns[0].Name != PatternDumpCycle || report.DetectedPatterns[0].Score != 0.8 {
		t.Fatalf("unexpected patterns %+v", report.DetectedPatterns)
	}
	if report.TransactionCount != 2 || !report.RiskAssessment {
		t.Fatalf("unexpected report %+v", report)
	}

	report, err = engine.AnalyzeBehavior(ctx, walletOne)
	if err != nil {
		t.Fatalf("behavior: %v", err)
	}
	if report.RiskAssessment {
		t.Fatalf("expected no behavioral patterns for %s", walletOne)
	}
}

func TestEngineTrimsAddressInput(t *testing.T) {
	engine := NewEngine(demoStore(t))
	ctx := context.Background()
	padded := "  " + walletTwo + "\t"

	status, err := engine.CheckScamStatus(ctx, padded)
	if err != nil || !status.IsConnectedToScam || status.ConnectedScamAddress != rugPullAddr {
		t.Fatalf("unexpected status %+v err=%v", status, err)
	}

	details, err := engine.AddressDetails(ctx, padded)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Address != walletTwo || details.Wallet == nil || len(details.RelatedTransactions) != 2 {
		t.Fatalf("unexpected details %+v", details)
	}

	report, err := engine.AnalyzeBehavior(ctx, padded)
	if err != nil {
		t.Fatalf("behavior: %v", err)
	}
	if report.Address != walletTwo || report.TransactionCount != 2 || !report.RiskAssessment {
		t.Fatalf("unexpected report %+v", report)
	}

	scan, err := engine.ScanAddress(ctx, padded)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scan.Address != walletTwo || scan.TransactionCount != 2 {
		t.Fatalf("unexpected scan %+v", scan)
	}
}

func TestLookupTransaction(t *testing.T) {
	engine := NewEngine(demoStore(t))
	ctx := context.Background()

	missing, err := engine.LookupTransaction(ctx, "0xmissing")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if missing.Found() || missing.Error != "Transaction not found" || missing.Hash != "0xmissing" {
		t.Fatalf("unexpected lookup %+v", missing)
	}

	found, err := engine.LookupTransaction(ctx, "0xfedcba0987654321fedcba0987654321fedcba0987654321fedcba0987654321")
	if err != nil || !found.Found() || found.Transaction.To != rugPullAddr {
		t.Fatalf("unexpected lookup %+v err=%v", found, err)
	}
}

type brokenRepo struct{ ledger.Repository }

func (brokenRepo) ScamEntry(context.Context, string) (ledger.ScamEntry, error) {
	return ledger.ScamEntry{}, errors.New("connection reset")
}

func TestAssessPropagatesStorageFailure(t *testing.T) {
	_, err := NewEngine(brokenRepo{ledger.NewMemoryStore()}).Assess(context.Background(), "0xa")
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	if len(catalog.Patterns("")) != 7 {
		t.Fatalf("expected 7 built-in patterns")
	}
	if len(catalog.Patterns(PatternKindWallet)) != 3 {
		t.Fatalf("expected 3 wallet patterns")
	}
	if p, ok := catalog.Lookup(PatternTokenHoneypot); !ok || p.Score != 0.85 {
		t.Fatalf("unexpected honeypot pattern %+v", p)
	}
	if _, err := NewCatalog(Pattern{Name: "bad", Score: 2}); err == nil {
		t.Fatalf("expected out-of-range score to be rejected")
	}
}
