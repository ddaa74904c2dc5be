package logging

import "log/slog"

// Domain identifiers

func Group(id int64) slog.Attr {
	return slog.Int64("group_id", id)
}

func User(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

func MessageID(id int64) slog.Attr {
	return slog.Int64("message_id", id)
}

func Conn(id string) slog.Attr {
	return slog.String("conn_id", id)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
