package models

// Key prefixes for entities in the KV store. Primary keys are the prefix
// followed by 32 random bytes hex-encoded.
const (
	AuthDBKey        = "a"
	ContactDBKey     = "c"
	DisputeDBKey     = "d"
	MessageDBKey     = "m"
	OrderDBKey       = "o"
	ProductDBKey     = "p"
	UserDBKey        = "u"
	MsigMessageDBKey = "msig"
)

// List keys hold comma-joined member ids per category.
const (
	ContactListDBKey       = "cl"
	MessageListDBKey       = "ml"
	OrderListDBKey         = "ol"
	ProductListDBKey       = "pl"
	RxMessageDBKey         = "rx"
	CustomerOrderListDBKey = "olc"
	MsigMessageListDBKey   = "msigl"
	DisputeListDBKey       = "dl"
	FtsDBKey               = "fts"
)

// FtsJwpDBKey prefixes the per-contact cached JWP used by the retry
// scheduler: fts-jwp-{i2p address}.
const FtsJwpDBKey = "fts-jwp"

// DeliveryDBKey prefixes enciphered delivery info: delivery-{orid}.
const DeliveryDBKey = "delivery"

// Reserved keys for the two HMAC signing secrets.
const (
	JwtSecretKey = "NEVEKO_JWT_SECRET_KEY"
	JwpSecretKey = "NEVEKO_JWP_SECRET_KEY"
)

// VendorEnabledKey toggles vendor functionality; the GUI writes "1" to
// enable it.
const (
	VendorEnabledKey = "NEVEKO_VENDOR_ENABLED"
	VendorModeOff    = "0"
	VendorModeOn     = "1"
)

// Field-length limits for peer-supplied input.
const (
	StringLimit  = 512
	MessageLimit = 9999
	NMPKLimit    = 128
	ImageLimit   = 2_000_000
)

// Order status values. The misspelled MulitsigComplete is the persisted
// on-disk value and must not be corrected.
const (
	StatusCancelled        = "Cancelled"
	StatusDelivered        = "Delivered"
	StatusMultisigMissing  = "MultisigMissing"
	StatusMulitsigComplete = "MulitsigComplete"
	StatusShipped          = "Shipped"
)

// Multisig message sub-types as they appear on the wire in
// "{sub_type}:{orid}:{info}[:{info2}]".
const (
	PrepareMsig = "prepare"
	MakeMsig    = "make"
	KexOneMsig  = "kexone"
	KexTwoMsig  = "kextwo"
	ExportMsig  = "export"
	ImportMsig  = "import"
	SignMsig    = "sign"
	TxSetMsig   = "txset"
)
