package consts

// Role identifies an agent. Every reasoning step is performed by exactly one role.
type Role string

const (
	// Analyst team
	RoleMarketAnalyst       Role = "market_analyst"
	RoleSentimentAnalyst    Role = "sentiment_analyst"
	RoleNewsAnalyst         Role = "news_analyst"
	RoleFundamentalsAnalyst Role = "fundamentals_analyst"

	// Research team
	RoleBullResearcher  Role = "bull_researcher"
	RoleBearResearcher  Role = "bear_researcher"
	RoleResearchManager Role = "research_manager"

	// Trading team
	RoleTrader Role = "trader"

	// Risk management team
	RoleAggressiveDebator   Role = "aggressive_debator"
	RoleConservativeDebator Role = "conservative_debator"
	RoleNeutralDebator      Role = "neutral_debator"
	RoleRiskJudge           Role = "risk_judge"

	// Portfolio management
	RolePortfolioManager Role = "portfolio_manager"

	// Out-of-band reflection
	RoleReflector Role = "reflector"
)

var allRoles = []Role{
	RoleMarketAnalyst,
	RoleSentimentAnalyst,
	RoleNewsAnalyst,
	RoleFundamentalsAnalyst,
	RoleBullResearcher,
	RoleBearResearcher,
	RoleResearchManager,
	RoleTrader,
	RoleAggressiveDebator,
	RoleConservativeDebator,
	RoleNeutralDebator,
	RoleRiskJudge,
	RolePortfolioManager,
	RoleReflector,
}

// Roles lists every known role.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if known == r {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// AnalystKind selects one analyst of the analyst stage.
type AnalystKind string

const (
	AnalystMarket       AnalystKind = "market"
	AnalystSentiment    AnalystKind = "sentiment"
	AnalystNews         AnalystKind = "news"
	AnalystFundamentals AnalystKind = "fundamentals"
)

var analystRoles = map[AnalystKind]Role{
	AnalystMarket:       RoleMarketAnalyst,
	AnalystSentiment:    RoleSentimentAnalyst,
	AnalystNews:         RoleNewsAnalyst,
	AnalystFundamentals: RoleFundamentalsAnalyst,
}

// AnalystKinds returns every analyst kind in the default order.
func AnalystKinds() []AnalystKind {
	return []AnalystKind{AnalystMarket, AnalystSentiment, AnalystNews, AnalystFundamentals}
}

// Role returns the agent role that writes reports of this kind.
func (k AnalystKind) Role() Role {
	return analystRoles[k]
}

// Valid reports whether k is a known analyst kind.
func (k AnalystKind) Valid() bool {
	_, ok := analystRoles[k]
	return ok
}
