package sse

import "sync"

// Registry tracks live streaming runs so interrupt requests can reach them.
// Entries are keyed by "<conversation_id>:<message_id>" and map to the
// backing task id, which is what the runner's cancellation oracle polls.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]string
	byConv map[string]map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[string]string),
		byConv: make(map[string]map[string]string),
	}
}

func streamKey(conversationID, messageID string) string {
	return conversationID + ":" + messageID
}

// Register records a live run. Callers must Unregister when the stream ends.
func (r *Registry) Register(conversationID, messageID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[streamKey(conversationID, messageID)] = taskID
	conv := r.byConv[conversationID]
	if conv == nil {
		conv = make(map[string]string)
		r.byConv[conversationID] = conv
	}
	conv[messageID] = taskID
}

// Unregister removes a run from every index.
func (r *Registry) Unregister(conversationID, messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, streamKey(conversationID, messageID))
	if conv := r.byConv[conversationID]; conv != nil {
		delete(conv, messageID)
		if len(conv) == 0 {
			delete(r.byConv, conversationID)
		}
	}
}

// Lookup returns the task id behind a live stream, if any.
func (r *Registry) Lookup(conversationID, messageID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	taskID, ok := r.byKey[streamKey(conversationID, messageID)]
	return taskID, ok
}

// TasksFor returns the task ids of every live run in a conversation.
func (r *Registry) TasksFor(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byConv[conversationID]))
	for _, taskID := range r.byConv[conversationID] {
		ids = append(ids, taskID)
	}
	return ids
}

// Active reports whether any run is live for the conversation.
func (r *Registry) Active(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConv[conversationID]) > 0
}
