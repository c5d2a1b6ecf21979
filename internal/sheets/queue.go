package sheets

import "go.uber.org/zap"

// Invalid is a row that failed schema validation. Invalid rows are not
// silently dropped: the caller routes them straight to failed with the
// reason as the note. They never consume the max-count budget.
type Invalid struct {
	Row    int
	Reason string
}

// QueueReader turns a row snapshot into validated typed tasks.
type QueueReader struct {
	log *zap.Logger
}

// NewQueueReader builds a reader. A nil logger is replaced with a no-op one.
func NewQueueReader(log *zap.Logger) *QueueReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueReader{log: log}
}

// PendingMessages selects eligible message tasks in sheet order. max caps
// the number of eligible tasks taken (0 = unlimited), applied after
// validation-based exclusions.
func (q *QueueReader) PendingMessages(rows [][]string, max int) ([]MessageTask, []Invalid) {
	var tasks []MessageTask
	var invalid []Invalid

	for i, row := range rows {
		rowNum := i + 1
		if rowNum == 1 {
			continue // header
		}
		if !IsPending(cell(row, MsgColStatus)) {
			continue
		}
		task, err := parseMessageRow(rowNum, row)
		if err != nil {
			q.log.Warn("invalid message row", zap.Int("row", rowNum), zap.Error(err))
			invalid = append(invalid, Invalid{Row: rowNum, Reason: err.Error()})
			continue
		}
		tasks = append(tasks, task)
	}
	if max > 0 && len(tasks) > max {
		tasks = tasks[:max]
	}
	return tasks, invalid
}

// PendingPosts selects eligible post tasks in sheet order, same budget
// semantics as PendingMessages.
func (q *QueueReader) PendingPosts(rows [][]string, max int) ([]PostTask, []Invalid) {
	var tasks []PostTask
	var invalid []Invalid

	for i, row := range rows {
		rowNum := i + 1
		if rowNum == 1 {
			continue
		}
		if !IsPending(cell(row, PostColStatus)) {
			continue
		}
		task, err := parsePostRow(rowNum, row)
		if err != nil {
			q.log.Warn("invalid post row", zap.Int("row", rowNum), zap.Error(err))
			invalid = append(invalid, Invalid{Row: rowNum, Reason: err.Error()})
			continue
		}
		tasks = append(tasks, task)
	}
	if max > 0 && len(tasks) > max {
		tasks = tasks[:max]
	}
	return tasks, invalid
}

// InboxRecords parses every conversation row. Rows without a nickname are
// reported invalid; selection (pending + non-empty reply) happens in the
// dispatch sweep, not here, because discovery needs the full set.
func (q *QueueReader) InboxRecords(rows [][]string) ([]InboxRecord, []Invalid) {
	var records []InboxRecord
	var invalid []Invalid

	for i, row := range rows {
		rowNum := i + 1
		if rowNum == 1 {
			continue
		}
		if len(row) == 0 {
			continue
		}
		rec, err := parseInboxRow(rowNum, row)
		if err != nil {
			invalid = append(invalid, Invalid{Row: rowNum, Reason: err.Error()})
			continue
		}
		records = append(records, rec)
	}
	return records, invalid
}
