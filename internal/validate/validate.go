// Package validate implements the pre-flight hard-constraint checks run
// before any network call.
package validate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradewire/execd/internal/types"
)

// Violation is one failed hard constraint. Violations are final: the caller
// must not retry, only report upstream.
type Violation struct {
	Code string
	Msg  string
}

func (v Violation) String() string {
	return v.Code + ": " + v.Msg
}

// Snapshot carries the state the validator needs, captured by the caller so
// the checks themselves stay pure.
type Snapshot struct {
	Price             decimal.Decimal
	Now               time.Time
	OpenPositions     int
	DeployableCapital decimal.Decimal
	AlreadyAttempted  bool
}

// Config holds the configured bounds.
type Config struct {
	MinPositionValue decimal.Decimal // floor for economically meaningful positions
	MaxPositionPct   decimal.Decimal // ceiling as pct of deployable capital
	MaxOpenPositions int
	Location         *time.Location
	SessionStart     string // HH:MM, empty = unrestricted
	SessionEnd       string // HH:MM
}

// Validator runs the hard-constraint checks.
type Validator struct {
	cfg Config
}

// New creates a validator.
func New(cfg Config) *Validator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Validator{cfg: cfg}
}

// Validate evaluates every rule against the intent — no short-circuiting, so
// a single rejection lists all violated constraints. An empty slice means
// the intent may proceed to submission.
func (v *Validator) Validate(intent types.TradeIntent, snap Snapshot) []Violation {
	var violations []Violation
	add := func(code, msg string) {
		violations = append(violations, Violation{Code: code, Msg: msg})
	}

	if intent.Symbol == "" {
		add("NO_SYMBOL", "intent symbol must be set")
	}
	if intent.Side != types.SideBuy && intent.Side != types.SideSell {
		add("NO_SIDE", "intent side must be BUY or SELL")
	}

	if !snap.Price.IsPositive() {
		add("NO_PRICE", fmt.Sprintf("no valid current price for %s", intent.Symbol))
	}

	qty := intent.ResolveQuantity(snap.Price)
	if qty <= 0 {
		add("NO_QUANTITY", "intent resolves to zero shares")
	}

	// Position value bounds only make sense with a price and quantity; the
	// rules above already flag their absence.
	if snap.Price.IsPositive() && qty > 0 {
		value := snap.Price.Mul(decimal.NewFromInt(qty))

		if v.cfg.MinPositionValue.IsPositive() && value.LessThan(v.cfg.MinPositionValue) {
			add("BELOW_MIN_VALUE",
				fmt.Sprintf("position value %s below floor %s", value.StringFixed(2), v.cfg.MinPositionValue.StringFixed(2)))
		}

		if v.cfg.MaxPositionPct.IsPositive() && snap.DeployableCapital.IsPositive() {
			ceiling := snap.DeployableCapital.Mul(v.cfg.MaxPositionPct)
			if value.GreaterThan(ceiling) {
				add("ABOVE_MAX_VALUE",
					fmt.Sprintf("position value %s exceeds ceiling %s (%s%% of deployable capital)",
						value.StringFixed(2), ceiling.StringFixed(2),
						v.cfg.MaxPositionPct.Mul(decimal.NewFromInt(100)).StringFixed(0)))
			}
		}
	}

	if v.cfg.MaxOpenPositions > 0 && intent.Side == types.SideBuy && snap.OpenPositions >= v.cfg.MaxOpenPositions {
		add("MAX_POSITIONS",
			fmt.Sprintf("open position count %d at cap %d", snap.OpenPositions, v.cfg.MaxOpenPositions))
	}

	if !v.withinSession(snap.Now) {
		add("OUTSIDE_SESSION",
			fmt.Sprintf("time %s outside trading session %s-%s %s",
				snap.Now.In(v.cfg.Location).Format("15:04"), v.cfg.SessionStart, v.cfg.SessionEnd, v.cfg.Location))
	}

	if snap.AlreadyAttempted {
		add("DUPLICATE",
			fmt.Sprintf("%s %s already attempted this trading day", intent.Side, intent.Symbol))
	}

	return violations
}

// withinSession checks the configured trading-hours window. An unset window
// means no restriction.
func (v *Validator) withinSession(now time.Time) bool {
	if v.cfg.SessionStart == "" || v.cfg.SessionEnd == "" {
		return true
	}

	local := now.In(v.cfg.Location)
	hhmm := local.Format("15:04")

	return hhmm >= v.cfg.SessionStart && hhmm <= v.cfg.SessionEnd
}

// Reasons flattens violations into report strings.
func Reasons(violations []Violation) []string {
	if len(violations) == 0 {
		return nil
	}
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = v.String()
	}
	return out
}
