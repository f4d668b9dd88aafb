package query

// SerializedObject представляет собой сериализованное значение: метка типа
// плюс непрозрачные байты, полученные обобщенным кодеком.
type SerializedObject struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// ErrorMessage представляет собой сетевое описание ошибки: текст и место
// возникновения (идентификатор клиента или компонента).
type ErrorMessage struct {
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// Ключи инструкций обработки, сопровождающих запрос.
const (
	// InstructionPriority — приоритет обработки запроса.
	InstructionPriority = "priority"
	// InstructionTimeout — таймаут обработки в миллисекундах.
	InstructionTimeout = "timeout"
	// InstructionNumberOfResults — ожидаемое число ответов;
	// -1 означает неограниченный scatter-gather.
	InstructionNumberOfResults = "nr_of_results"
)

// UnboundedResults — значение инструкции nr_of_results для scatter-gather.
const UnboundedResults int64 = -1

// ProcessingInstruction представляет собой сетевую директиву обработки
// запроса: приоритет, таймаут или ожидаемое число ответов.
type ProcessingInstruction struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// QueryRequest представляет собой сетевое представление запроса.
type QueryRequest struct {
	RequestIdentifier      string                  `json:"request_identifier"`
	MessageIdentifier      string                  `json:"message_identifier"`
	QueryName              string                  `json:"query_name"`
	Payload                *SerializedObject       `json:"payload,omitempty"`
	ResponseType           *SerializedObject       `json:"response_type,omitempty"`
	Metadata               map[string]string       `json:"metadata,omitempty"`
	ProcessingInstructions []ProcessingInstruction `json:"processing_instructions,omitempty"`
	ClientID               string                  `json:"client_id,omitempty"`
	ComponentName          string                  `json:"component_name,omitempty"`
}

// QueryResponse представляет собой сетевое представление ответа на запрос.
// Ответ несет либо полезную нагрузку, либо код ошибки с описанием.
type QueryResponse struct {
	RequestIdentifier string            `json:"request_identifier"`
	MessageIdentifier string            `json:"message_identifier"`
	Payload           *SerializedObject `json:"payload,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	ErrorMessage      *ErrorMessage     `json:"error_message,omitempty"`
	Details           *SerializedObject `json:"details,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// QueryUpdate представляет собой сетевое представление одного обновления
// подписочного запроса.
type QueryUpdate struct {
	MessageIdentifier string            `json:"message_identifier"`
	Payload           *SerializedObject `json:"payload,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// NumberOfResults возвращает ожидаемое число ответов из инструкций обработки.
// При отсутствии инструкции возвращает 1.
func NumberOfResults(instructions []ProcessingInstruction) int64 {
	for _, instr := range instructions {
		if instr.Key == InstructionNumberOfResults {
			return instr.Value
		}
	}
	return 1
}

// TimeoutMillis возвращает таймаут обработки из инструкций. При отсутствии
// инструкции возвращает 0.
func TimeoutMillis(instructions []ProcessingInstruction) int64 {
	for _, instr := range instructions {
		if instr.Key == InstructionTimeout {
			return instr.Value
		}
	}
	return 0
}

// Priority возвращает приоритет обработки из инструкций. При отсутствии
// инструкции возвращает 0.
func Priority(instructions []ProcessingInstruction) int64 {
	for _, instr := range instructions {
		if instr.Key == InstructionPriority {
			return instr.Value
		}
	}
	return 0
}
