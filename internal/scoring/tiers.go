package scoring

// Tier is the badge assigned from the overall score.
type Tier string

const (
	TierPlatinum   Tier = "platinum"
	TierGold       Tier = "gold"
	TierSilver     Tier = "silver"
	TierBronze     Tier = "bronze"
	TierRisingStar Tier = "rising-star"
	TierWarning    Tier = "warning"
)

// Tiers lists every badge from highest to lowest.
var Tiers = []Tier{TierPlatinum, TierGold, TierSilver, TierBronze, TierRisingStar, TierWarning}

// TierFor evaluates thresholds top-down. Scores above 100 stay platinum.
func TierFor(score float64) Tier {
	switch {
	case score >= 95:
		return TierPlatinum
	case score >= 85:
		return TierGold
	case score >= 75:
		return TierSilver
	case score >= 65:
		return TierBronze
	case score >= 50:
		return TierRisingStar
	default:
		return TierWarning
	}
}

// ParseTier returns the tier named s, or ok=false.
func ParseTier(s string) (Tier, bool) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// PointsRank is the coarse rank shown next to a raw attendance point total. It is
// unrelated to the badge tier.
type PointsRank string

const (
	RankDiamond  PointsRank = "Diamond"
	RankPlatinum PointsRank = "Platinum"
	RankGold     PointsRank = "Gold"
	RankSilver   PointsRank = "Silver"
	RankBronze   PointsRank = "Bronze"
	RankBeginner PointsRank = "Beginner"
)

func PointsRankFor(points int) PointsRank {
	switch {
	case points >= 1000:
		return RankDiamond
	case points >= 800:
		return RankPlatinum
	case points >= 600:
		return RankGold
	case points >= 400:
		return RankSilver
	case points >= 200:
		return RankBronze
	default:
		return RankBeginner
	}
}
