package logkey

// Attribute keys shared by every slog call in the service.
const (
	TraceID   = "TRACE ID"
	ERROR     = "ERROR"
	OrderID   = "ORDER ID"
	StudentID = "STUDENT ID"
	CourseID  = "COURSE ID"
	Status    = "STATUS"
)
