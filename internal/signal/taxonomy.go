package signal

// allFlags fixes the iteration order of the taxonomy so Normalize output is
// deterministic before the final span sort.
var allFlags = []Flag{
	FlagUrgency,
	FlagAuthority,
	FlagSensitiveInfo,
	FlagPaymentMethod,
	FlagSecrecy,
	FlagFamilyEmergency,
}

// flagWeights is the per-flag contribution used by the risk scorer when it
// computes the signal boost. The boost is additive and capped there, so
// individual weights only need relative calibration.
var flagWeights = map[Flag]float64{
	FlagUrgency:         0.10,
	FlagAuthority:       0.15,
	FlagSensitiveInfo:   0.15,
	FlagPaymentMethod:   0.12,
	FlagSecrecy:         0.10,
	FlagFamilyEmergency: 0.12,
}

// taxonomy is the closed set of literal marker terms per flag. All terms are
// lowercase; matching is done against ASCII-lowered transcript text at word
// boundaries.
var taxonomy = map[Flag][]string{
	FlagUrgency: {
		"urgent",
		"urgently",
		"immediately",
		"act now",
		"right now",
		"right away",
		"limited time",
		"last chance",
		"before it's too late",
	},
	FlagAuthority: {
		"irs",
		"internal revenue service",
		"fbi",
		"medicare",
		"social security administration",
		"sheriff",
		"police department",
		"federal agent",
		"government agency",
	},
	FlagSensitiveInfo: {
		"social security number",
		"ssn",
		"account number",
		"routing number",
		"pin number",
		"date of birth",
		"verify your identity",
		"verify your account",
		"password",
	},
	FlagPaymentMethod: {
		"gift card",
		"gift cards",
		"wire transfer",
		"western union",
		"moneygram",
		"bitcoin",
		"cryptocurrency",
		"prepaid card",
		"money order",
		"cash app",
		"zelle",
	},
	FlagSecrecy: {
		"don't tell anyone",
		"do not tell anyone",
		"keep this between us",
		"keep it secret",
		"don't hang up",
		"do not hang up",
	},
	FlagFamilyEmergency: {
		"grandma",
		"grandpa",
		"it's me",
		"bail money",
		"in jail",
		"car accident",
		"in the hospital",
		"your grandson",
		"your granddaughter",
	},
}

// authorityNames is the vocabulary used by the phonetic pass. Only short,
// frequently-misheard single-token names are worth fuzzy matching; the
// multi-word authority terms are covered by the literal pass.
var authorityNames = []string{
	"irs",
	"fbi",
	"medicare",
	"sheriff",
}
