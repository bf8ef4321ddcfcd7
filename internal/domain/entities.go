package domain

import (
	"time"

	"github.com/google/uuid"
)

// Category is one of the eight fixed domains a message can be scored
// against. The set is closed; classifiers must switch exhaustively.
type Category string

const (
	CategorySchool             Category = "school"
	CategorySportsActivities   Category = "sports_activities"
	CategoryMedicalHealth      Category = "medical_health"
	CategoryFriendsSocial      Category = "friends_social"
	CategoryLogistics          Category = "logistics"
	CategoryFormsAdmin         Category = "forms_admin"
	CategoryFinancialBilling   Category = "financial_billing"
	CategoryCommunityOptional  Category = "community_optional"
)

// Categories lists all eight in configured display order.
func Categories() []Category {
	return []Category{
		CategorySchool,
		CategorySportsActivities,
		CategoryMedicalHealth,
		CategoryFriendsSocial,
		CategoryLogistics,
		CategoryFormsAdmin,
		CategoryFinancialBilling,
		CategoryCommunityOptional,
	}
}

// ItemType is obligation (dated action item / event), announcement
// (informational), or unknown (Stage B withheld or low confidence).
type ItemType string

const (
	ItemTypeObligation   ItemType = "obligation"
	ItemTypeAnnouncement ItemType = "announcement"
	ItemTypeUnknown      ItemType = "unknown"
)

// obligationCategories are the categories ItemTypeClassifier Stage A
// treats as obligation-leaning before any LLM input.
var obligationCategories = map[Category]bool{
	CategoryMedicalHealth: true,
	CategoryFormsAdmin:    true,
	CategoryLogistics:     true,
}

// IsObligationLeaning reports whether c is one of Stage A's
// obligation-leaning categories (medical_health, forms_admin, logistics).
func (c Category) IsObligationLeaning() bool {
	return obligationCategories[c]
}

// AssignmentReason explains why PersonAssigner attached a person to a
// message, in strongest-first precedence order.
type AssignmentReason string

const (
	AssignmentReasonExact         AssignmentReason = "exact"
	AssignmentReasonAlias         AssignmentReason = "alias"
	AssignmentReasonGroup         AssignmentReason = "group"
	AssignmentReasonSource        AssignmentReason = "source"
	AssignmentReasonSharedDefault AssignmentReason = "shared_default"
)

// reasonRank orders AssignmentReason strongest-to-weakest for picking
// the strongest reason present across a candidate set.
var reasonRank = map[AssignmentReason]int{
	AssignmentReasonExact:         4,
	AssignmentReasonAlias:         3,
	AssignmentReasonGroup:         2,
	AssignmentReasonSource:        1,
	AssignmentReasonSharedDefault: 0,
}

// Strongest returns whichever of r or other outranks the other.
func (r AssignmentReason) Strongest(other AssignmentReason) AssignmentReason {
	if reasonRank[other] > reasonRank[r] {
		return other
	}
	return r
}

// ExtractionStatus is the terminal outcome DiscoveryEngine records for
// a processed message.
type ExtractionStatus string

const (
	ExtractionStatusSuccess ExtractionStatus = "success"
	ExtractionStatusFailed  ExtractionStatus = "failed"
	ExtractionStatusSkipped ExtractionStatus = "skipped"
)

// CalendarOperationType is the kind of write the calendar sink queue holds.
type CalendarOperationType string

const (
	CalendarOperationCreate CalendarOperationType = "create"
	CalendarOperationUpdate CalendarOperationType = "update"
	CalendarOperationFlag   CalendarOperationType = "flag"
)

// CalendarOperationStatus tracks a CalendarOperation through the
// (external) calendar writer's queue.
type CalendarOperationStatus string

const (
	CalendarOperationPending  CalendarOperationStatus = "pending"
	CalendarOperationApproved CalendarOperationStatus = "approved"
	CalendarOperationExecuted CalendarOperationStatus = "executed"
	CalendarOperationFailed   CalendarOperationStatus = "failed"
)

// EventStatus tracks an Event from extraction through calendar sync.
type EventStatus string

const (
	EventStatusPending        EventStatus = "pending"
	EventStatusApproved       EventStatus = "approved"
	EventStatusCreated        EventStatus = "created"
	EventStatusUpdated        EventStatus = "updated"
	EventStatusFailed         EventStatus = "failed"
	EventStatusManuallyEdited EventStatus = "manually_edited"
)

// ProvenanceMethod is how an Event's eventIntent was derived.
type ProvenanceMethod string

const (
	ProvenanceMethodICS    ProvenanceMethod = "ics"
	ProvenanceMethodText   ProvenanceMethod = "text"
	ProvenanceMethodManual ProvenanceMethod = "manual"
)

// ProcessedMessage is the de-dup source of truth: it exists iff the
// engine has made a terminal decision about a given external message
// id. Never deleted.
type ProcessedMessage struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	MessageID        string           `db:"message_id" json:"messageId"`
	ProcessedAt      time.Time        `db:"processed_at" json:"processedAt"`
	PackID           string           `db:"pack_id" json:"packId"`
	ExtractionStatus ExtractionStatus `db:"extraction_status" json:"extractionStatus"`
	EventsExtracted  int              `db:"events_extracted" json:"eventsExtracted"`
	Fingerprints     StringList       `db:"fingerprints" json:"fingerprints"`
	Error            *string          `db:"error" json:"error,omitempty"`
}

// Item is the unified pending-approval/classified-message entity.
type Item struct {
	ID                       uuid.UUID        `db:"id" json:"id"`
	MessageID                string           `db:"message_id" json:"messageId"`
	PackID                   string           `db:"pack_id" json:"packId"`
	Subject                  string           `db:"subject" json:"subject"`
	FromName                 string           `db:"from_name" json:"fromName"`
	FromEmail                string           `db:"from_email" json:"fromEmail"`
	Snippet                  string           `db:"snippet" json:"snippet"`
	EmailBodyText            string           `db:"email_body_text" json:"emailBodyText"`
	EmailBodyHTML            string           `db:"email_body_html" json:"emailBodyHtml"`
	RelevanceScore           float64          `db:"relevance_score" json:"relevanceScore"`
	PrimaryCategory          Category         `db:"primary_category" json:"primaryCategory"`
	SecondaryCategories      StringList       `db:"secondary_categories" json:"secondaryCategories"`
	CategoryScores           CategoryScores   `db:"category_scores" json:"categoryScores"`
	SaveReasons              StringList       `db:"save_reasons" json:"saveReasons"`
	Person                   string           `db:"person" json:"person"`
	AssignmentReason         AssignmentReason `db:"assignment_reason" json:"assignmentReason"`
	ItemType                 ItemType         `db:"item_type" json:"itemType"`
	ObligationDate           *time.Time       `db:"obligation_date" json:"obligationDate,omitempty"`
	ClassificationConfidence *float64         `db:"classification_confidence" json:"classificationConfidence,omitempty"`
	ClassificationReasoning  *string          `db:"classification_reasoning" json:"classificationReasoning,omitempty"`
	Approved                 bool             `db:"approved" json:"approved"`
	ApprovedAt               *time.Time       `db:"approved_at" json:"approvedAt,omitempty"`
	CreatedAt                time.Time        `db:"created_at" json:"createdAt"`
}

// CalendarOperation is one queued write for the (external) calendar
// sink. sendUpdates defaults to "none"; the writer must not notify
// guests unless the owning pack sets notifyGuests.
type CalendarOperation struct {
	ID               uuid.UUID               `db:"id" json:"id"`
	Type             CalendarOperationType   `db:"type" json:"type"`
	EventFingerprint string                  `db:"event_fingerprint" json:"eventFingerprint"`
	EventIntent      EventIntent             `db:"event_intent" json:"eventIntent"`
	Reason           string                  `db:"reason" json:"reason"`
	RequiresApproval bool                    `db:"requires_approval" json:"requiresApproval"`
	Status           CalendarOperationStatus `db:"status" json:"status"`
	ExecutedAt       *time.Time              `db:"executed_at" json:"executedAt,omitempty"`
	CalendarEventID  *string                 `db:"calendar_event_id" json:"calendarEventId,omitempty"`
	Error            *string                 `db:"error" json:"error,omitempty"`
}

// EventIntent is the structured shape extractors hand to the calendar
// sink; the extractor that populates it lives outside the core.
type EventIntent struct {
	Title           string    `json:"title"`
	StartDateTime   time.Time `json:"startDateTime"`
	EndDateTime     *time.Time `json:"endDateTime,omitempty"`
	Location        string    `json:"location,omitempty"`
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	NotifyGuests    bool      `json:"notifyGuests"`
}

// Event is a deduplicated calendar candidate keyed by a unique
// fingerprint.
type Event struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	Fingerprint     string      `db:"fingerprint" json:"fingerprint"`
	SourceMessageID string      `db:"source_message_id" json:"sourceMessageId"`
	PackID          string      `db:"pack_id" json:"packId"`
	CalendarEventID *string     `db:"calendar_event_id" json:"calendarEventId,omitempty"`
	EventIntent     EventIntent `db:"event_intent" json:"eventIntent"`
	Confidence      float64     `db:"confidence" json:"confidence"`
	Status          EventStatus `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updatedAt"`
	LastSyncedAt    *time.Time  `db:"last_synced_at" json:"lastSyncedAt,omitempty"`
	ManuallyEdited  bool        `db:"manually_edited" json:"manuallyEdited"`
	Provenance      Provenance  `db:"provenance" json:"provenance"`
}

// Provenance records how an Event's eventIntent was derived.
type Provenance struct {
	Method               ProvenanceMethod  `json:"method"`
	ConfidenceReasons    ConfidenceReasons `json:"confidenceReasons"`
	Assumptions          StringList        `json:"assumptions"`
	SourceEmailPermalink string            `json:"sourceEmailPermalink"`
	ExtractedAt          time.Time         `json:"extractedAt"`
}

// DismissedItem is an immutable record that an item was dismissed.
// Re-dismissal creates a new row; these are never updated or deleted.
type DismissedItem struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ItemID          uuid.UUID `db:"item_id" json:"itemId"`
	ItemType        ItemType  `db:"item_type" json:"itemType"`
	Reason          string    `db:"reason" json:"reason"`
	DismissedAt     time.Time `db:"dismissed_at" json:"dismissedAt"`
	DismissedBy     string    `db:"dismissed_by" json:"dismissedBy"`
	OriginalSubject string    `db:"original_subject" json:"originalSubject"`
	OriginalFrom    string    `db:"original_from" json:"originalFrom"`
	OriginalDate    time.Time `db:"original_date" json:"originalDate"`
	Person          string    `db:"person" json:"person"`
	PackID          string    `db:"pack_id" json:"packId"`
}

// ForwardedMessage records a message the system forwarded to a human,
// with the reason and conditions that triggered the forward.
type ForwardedMessage struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	SourceMessageID string     `db:"source_message_id" json:"sourceMessageId"`
	ForwardedAt     time.Time  `db:"forwarded_at" json:"forwardedAt"`
	ForwardedTo     StringList `db:"forwarded_to" json:"forwardedTo"`
	PackID          string     `db:"pack_id" json:"packId"`
	Reason          string     `db:"reason" json:"reason"`
	Conditions      string     `db:"conditions" json:"conditions"`
	Success         bool       `db:"success" json:"success"`
	Error           *string    `db:"error" json:"error,omitempty"`
}

// ApprovalToken is a single-use token gating execution of a
// CalendarOperation that requires human approval.
type ApprovalToken struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OperationID uuid.UUID  `db:"operation_id" json:"operationId"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expiresAt"`
	Approved    bool       `db:"approved" json:"approved"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	Used        bool       `db:"used" json:"used"`
}

// DefaultApprovalTTL is the default window an ApprovalToken stays valid.
const DefaultApprovalTTL = 2 * time.Hour

// AuditLog is an append-only record of one state transition.
type AuditLog struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Timestamp       time.Time  `db:"timestamp" json:"timestamp"`
	Level           string     `db:"level" json:"level"`
	Module          string     `db:"module" json:"module"`
	Action          string     `db:"action" json:"action"`
	Details         JSONObject `db:"details" json:"details"`
	MessageID       *string    `db:"message_id" json:"messageId,omitempty"`
	EventFingerprint *string   `db:"event_fingerprint" json:"eventFingerprint,omitempty"`
	UserID          *string    `db:"user_id" json:"userId,omitempty"`
}
