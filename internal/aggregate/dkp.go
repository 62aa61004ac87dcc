package aggregate

// DKP weights per unit.
const (
	T4KillWeight = 5
	T5KillWeight = 10
	DeathWeight  = 15
)

// Score computes DKP from tier-4 kills, tier-5 kills and deaths.
func Score(t4Kills, t5Kills, deaths int64) int64 {
	return t4Kills*T4KillWeight + t5Kills*T5KillWeight + deaths*DeathWeight
}
