package templates

import "notification-service/internal/models"

const (
	UserRegistered      = "user_registered"
	AdminRegistered     = "admin_registered"
	ReservationCreated  = "reservation_created"
	ReservationDueSoon  = "reservation_due_soon"
	ReservationOverdue  = "reservation_overdue"
	ReservationReturned = "reservation_returned"
	UserSuspended       = "user_suspended"
	BookAvailable       = "book_available"
)

func builtins() []models.Template {
	return []models.Template{
		{
			ID:              UserRegistered,
			Name:            "User Registration",
			Type:            models.TypeEmail,
			TitleTemplate:   "Welcome to Library Management System!",
			MessageTemplate: "Hello {{first_name}}, welcome to our library! Your account has been created successfully.",
			Variables:       []string{"first_name", "email"},
			Description:     "Sent when a reader account is created",
		},
		{
			ID:              AdminRegistered,
			Name:            "Admin Registration",
			Type:            models.TypeEmail,
			TitleTemplate:   "New Admin Account Created",
			MessageTemplate: "Hello {{first_name}}, your {{role}} account has been created by {{created_by}}.",
			Variables:       []string{"first_name", "role", "created_by"},
			Description:     "Sent when a staff account is created",
		},
		{
			ID:              ReservationCreated,
			Name:            "Book Reserved",
			Type:            models.TypeSystem,
			TitleTemplate:   "Book Reserved Successfully",
			MessageTemplate: "You have successfully reserved '{{book_title}}' by {{book_author}}. Due date: {{due_date}}",
			Variables:       []string{"book_title", "book_author", "due_date"},
		},
		{
			ID:              ReservationDueSoon,
			Name:            "Book Due Soon",
			Type:            models.TypeSystem,
			TitleTemplate:   "Book Due Tomorrow",
			MessageTemplate: "Your book '{{book_title}}' is due tomorrow ({{due_date}}). Please return it on time.",
			Variables:       []string{"book_title", "due_date"},
		},
		{
			ID:              ReservationOverdue,
			Name:            "Book Overdue",
			Type:            models.TypeSystem,
			TitleTemplate:   "Book Overdue",
			MessageTemplate: "Your book '{{book_title}}' is overdue since {{due_date}}. Please return it immediately.",
			Variables:       []string{"book_title", "due_date"},
		},
		{
			ID:              ReservationReturned,
			Name:            "Book Returned",
			Type:            models.TypeSystem,
			TitleTemplate:   "Book Returned Successfully",
			MessageTemplate: "You have successfully returned '{{book_title}}'. Thank you!",
			Variables:       []string{"book_title"},
		},
		{
			ID:              UserSuspended,
			Name:            "Account Suspended",
			Type:            models.TypeSystem,
			TitleTemplate:   "Account Suspended",
			MessageTemplate: "Your account has been suspended. Reason: {{reason}}. Please contact the library.",
			Variables:       []string{"reason"},
		},
		{
			ID:              BookAvailable,
			Name:            "Book Available",
			Type:            models.TypeSystem,
			TitleTemplate:   "Book Now Available",
			MessageTemplate: "The book '{{book_title}}' you were waiting for is now available for reservation.",
			Variables:       []string{"book_title"},
		},
	}
}
