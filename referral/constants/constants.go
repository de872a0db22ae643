package constants

// Rule defaults. Each one can be overridden through the environment; see the
// config loaders in the packages that consume them.
const (
	// ReSignIntervalDays is how long a REGISTERED entry stays current before
	// the worker must re-sign.
	ReSignIntervalDays = 30

	// CheckMarkLimit is the number of live check marks that forces roll-off
	// from every book the worker holds a position on.
	CheckMarkLimit = 3

	// ShortCallMaxDays is the longest a call can run and still count as a
	// short call. Anything longer is treated as a long call for check-mark
	// and re-registration purposes.
	ShortCallMaxDays = 3

	// ShortCallCycleLimit caps short-call dispatches per worker per cycle.
	ShortCallCycleLimit = 2

	// BlackoutDays is the post-termination cooldown between a worker and the
	// terminating employer.
	BlackoutDays = 14

	// BidRejectionLimit is the number of rejections in the rolling window
	// that triggers a bidding ban.
	BidRejectionLimit = 2

	// BidRejectionWindowMonths is the rolling window for counting rejections.
	BidRejectionWindowMonths = 12

	// BidBanMonths is how long a bidding ban lasts.
	BidBanMonths = 12
)

// Bid window boundaries, local wall-clock, HH:MM. The window spans midnight.
const (
	BidWindowOpen  = "18:00"
	BidWindowClose = "08:00"
)

// MorningCutoffHour is the hour (local) on the previous working day by which a
// labor request must have arrived to be included in the next morning's run.
const MorningCutoffHour = 15

// APNEpoch anchors the integer part of priority numbers: days elapsed since
// this date. Overridable via REFERRAL_APN_EPOCH.
const APNEpoch = "2000-01-01"

// APNSameDayStep is the fractional increment between same-day registrants.
const APNSameDayStep = "0.01"

const (
	TestWorkerID   = "W-1001"
	TestEmployerID = "E-2001"
)

// This is set during compilation. See the build scripts in the ops repo.
var Version = "latest"
