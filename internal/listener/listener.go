// Package listener implements the single point of registration for
// clients, servers (peers), terminals and tasks.
// It serializes map mutation behind one short-held lock and routes frames
// to the output scheduler of whichever endpoint a sender names.
package listener

import (
	"log"
	"sync"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/task"
)

// Sched is the minimal surface the Listener needs from an endpoint's
// output scheduler to forward and broadcast frames.
type Sched interface {
	Submit(buf []byte, isCommand bool) bool
}

// ClientInfo is what the Listener holds for a registered client.
type ClientInfo struct {
	ID            ident.ID
	Hops          int
	TakeOwnership bool
	Sched         Sched
}

// ServerInfo is what the Listener holds for a registered peer server.
type ServerInfo struct {
	ID    ident.ID
	Sched Sched
}

// TerminalInfo is what the Listener holds for a registered terminal.
type TerminalInfo struct {
	ID    ident.ID
	Sched Sched
}

// ProxyInfo is what the Listener holds for a registered proxy: a handle
// to a terminal that actually lives on PeerID, reached by re-forwarding
// Term-class frames addressed to ID onto that peer's scheduler.
type ProxyInfo struct {
	ID     ident.ID
	PeerID ident.ID
}

// OwnershipChange is delivered to clients when ownership of a terminal
// transfers.
type OwnershipChange struct {
	TerminalID ident.ID
	NewOwner   ident.ID
}

// Listener is the global registry. All map access is
// serialized behind mu; callers hand it pointers to already-running
// workers/tasks and it never blocks on their I/O.
type Listener struct {
	mu sync.Mutex

	servers   map[ident.ID]*ServerInfo
	clients   []*ClientInfo // ordered by ascending Hops, per "insertion point" rule
	terminals map[ident.ID]*TerminalInfo
	proxies   map[ident.ID]*ProxyInfo
	tasks     map[ident.ID]*task.Task
	watches   map[ident.ID]*Watch

	owners map[ident.ID]ident.ID // terminal id -> owning client id

	attrs *ident.AttributeMap // server-level attributes published by the Monitor

	standalone  bool
	interrupted bool

	onOwnershipChange func(clientID ident.ID, change OwnershipChange)
}

// New creates an empty Listener. standalone selects the close
// condition where the server exits once no readers remain.
func New(standalone bool) *Listener {
	return &Listener{
		servers:    make(map[ident.ID]*ServerInfo),
		terminals:  make(map[ident.ID]*TerminalInfo),
		proxies:    make(map[ident.ID]*ProxyInfo),
		tasks:      make(map[ident.ID]*task.Task),
		watches:    make(map[ident.ID]*Watch),
		attrs:      ident.NewAttributeMap(ident.DefaultRestriction, nil),
		owners:     make(map[ident.ID]ident.ID),
		standalone: standalone,
	}
}

// OnOwnershipChange registers a callback invoked whenever a terminal's
// ownership transfers or clears; the caller wires this to post a
// WorkOwnershipChange item onto the affected client's connection worker.
// When ownership clears, both clientID and change.NewOwner are ident.Nil.
func (l *Listener) OnOwnershipChange(fn func(clientID ident.ID, change OwnershipChange)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onOwnershipChange = fn
}

// CheckServer reports whether id is free to register as a peer — false if
// it would collide with an existing peer.
func (l *Listener) CheckServer(id ident.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, exists := l.servers[id]
	return !exists
}

// RegisterServer adds a peer and re-announces every known client to it, so
// a newly-joined peer learns the current client set.
func (l *Listener) RegisterServer(id ident.ID, sched Sched, announce func(c *ClientInfo)) {
	l.mu.Lock()
	l.servers[id] = &ServerInfo{ID: id, Sched: sched}
	clients := make([]*ClientInfo, len(l.clients))
	copy(clients, l.clients)
	l.mu.Unlock()

	if announce != nil {
		for _, c := range clients {
			announce(c)
		}
	}
}

// UnregisterServer removes a peer.
func (l *Listener) UnregisterServer(id ident.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.servers, id)
}

// RegisterClient inserts a client at the first position whose stored hop
// count exceeds info.Hops. If TakeOwnership is set and
// terminalID has no current owner, ownership transfers and the registered
// callback fires.
func (l *Listener) RegisterClient(info *ClientInfo, terminalID ident.ID) bool {
	l.mu.Lock()
	idx := len(l.clients)
	for i, c := range l.clients {
		if c.Hops > info.Hops {
			idx = i
			break
		}
	}
	l.clients = append(l.clients, nil)
	copy(l.clients[idx+1:], l.clients[idx:])
	l.clients[idx] = info

	var emit func()
	if info.TakeOwnership && !terminalID.IsNil() {
		if _, owned := l.owners[terminalID]; !owned {
			l.owners[terminalID] = info.ID
			cb := l.onOwnershipChange
			emit = func() {
				if cb != nil {
					cb(info.ID, OwnershipChange{TerminalID: terminalID, NewOwner: info.ID})
				}
			}
		}
	}
	l.mu.Unlock()

	if emit != nil {
		emit()
	}
	return true
}

// UnregisterClient removes a client, forwards goodbyeFrame to every
// distinct peer, stops every task it owned with status LostConn, and
// transfers any terminal ownership it held to the first remaining
// TakeOwnership client (in hop order), clearing it only if none remains.
func (l *Listener) UnregisterClient(id ident.ID, goodbyeFrame []byte) {
	l.mu.Lock()
	for i, c := range l.clients {
		if c.ID.Equal(id) {
			l.clients = append(l.clients[:i], l.clients[i+1:]...)
			break
		}
	}

	var lostTasks []*task.Task
	for _, t := range l.tasks {
		if t.ClientID.Equal(id) {
			lostTasks = append(lostTasks, t)
		}
	}

	var ownedTerms []ident.ID
	for tid, owner := range l.owners {
		if owner.Equal(id) {
			ownedTerms = append(ownedTerms, tid)
		}
	}

	var successor *ClientInfo
	for _, c := range l.clients {
		if c.TakeOwnership {
			successor = c
			break
		}
	}

	cb := l.onOwnershipChange
	var changes []OwnershipChange
	for _, tid := range ownedTerms {
		if successor != nil {
			l.owners[tid] = successor.ID
			changes = append(changes, OwnershipChange{TerminalID: tid, NewOwner: successor.ID})
		} else {
			delete(l.owners, tid)
			changes = append(changes, OwnershipChange{TerminalID: tid, NewOwner: ident.Nil})
		}
	}

	var peers []Sched
	seen := make(map[Sched]bool)
	for _, s := range l.servers {
		if !seen[s.Sched] {
			seen[s.Sched] = true
			peers = append(peers, s.Sched)
		}
	}
	l.mu.Unlock()

	for _, t := range lostTasks {
		t.Fail(task.ErrLostConn, nil)
		t.Submit(task.Work{Kind: task.WorkClose})
	}
	if cb != nil {
		for _, change := range changes {
			cb(change.NewOwner, change)
		}
	}
	if len(goodbyeFrame) > 0 {
		for _, p := range peers {
			p.Submit(goodbyeFrame, true)
		}
	}
}

// RegisterTerminal adds a terminal to the registry.
func (l *Listener) RegisterTerminal(id ident.ID, sched Sched) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminals[id] = &TerminalInfo{ID: id, Sched: sched}
}

// UnregisterTerminal removes a terminal. If watch holders remain the
// terminal is intentionally leaked instead — left in the registry and
// logged critical — because watches may only be released by their
// reader. Returns false when the terminal was leaked.
func (l *Listener) UnregisterTerminal(id ident.ID) bool {
	l.mu.Lock()
	for _, w := range l.watches {
		if w.TerminalID.Equal(id) {
			l.mu.Unlock()
			LogCriticalLeak(id)
			return false
		}
	}
	delete(l.terminals, id)
	delete(l.owners, id)
	l.mu.Unlock()
	return true
}

// RegisterProxy adds a handle to a terminal reached through peerID.
// A proxy shares its owning
// peer's connection; it has no descriptor or scheduler of its own.
func (l *Listener) RegisterProxy(id, peerID ident.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.proxies[id] = &ProxyInfo{ID: id, PeerID: peerID}
}

// UnregisterProxy removes a proxy handle, e.g. when its owning peer
// disconnects or the remote terminal it fronts is closed.
func (l *Listener) UnregisterProxy(id ident.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.proxies, id)
}

// UnregisterProxiesForPeer removes every proxy routed through peerID,
// e.g. when that peer server disconnects.
func (l *Listener) UnregisterProxiesForPeer(peerID ident.ID) []ident.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed []ident.ID
	for id, p := range l.proxies {
		if p.PeerID.Equal(peerID) {
			delete(l.proxies, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// RegisterTask adds a task to the registry, rejecting a duplicate
// exclusive TargetName.
func (l *Listener) RegisterTask(t *task.Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.Exclusive {
		for _, existing := range l.tasks {
			if existing.Exclusive && existing.TargetName == t.TargetName {
				return false
			}
		}
	}
	l.tasks[t.ID] = t
	return true
}

// UnregisterTask removes a task.
func (l *Listener) UnregisterTask(id ident.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tasks, id)
}

// ForwardToServer routes frame to the named peer's scheduler. ok is false
// if id names no registered peer; throttled reports whether the
// scheduler's submit crossed the warn threshold, so the caller can emit a
// THROTTLE_PAUSE back toward the sender.
func (l *Listener) ForwardToServer(id ident.ID, frame []byte) (ok bool, throttled bool) {
	l.mu.Lock()
	s, exists := l.servers[id]
	l.mu.Unlock()
	if !exists {
		return false, false
	}
	return true, !s.Sched.Submit(frame, true)
}

// ForwardToTerm routes frame to the named terminal's scheduler. If id
// names no locally-owned terminal but does name a registered proxy, the
// frame is re-forwarded unchanged to that proxy's owning peer server —
// this is loop-free cross-server forwarding: a
// message about a terminal this server does not own travels one hop
// closer to the server that does, without this server ever inspecting
// its body.
func (l *Listener) ForwardToTerm(id ident.ID, frame []byte) (ok bool, throttled bool) {
	l.mu.Lock()
	term, exists := l.terminals[id]
	var proxy *ProxyInfo
	if !exists {
		proxy, exists = l.proxies[id]
	}
	l.mu.Unlock()
	if !exists {
		return false, false
	}
	if term != nil {
		return true, !term.Sched.Submit(frame, true)
	}
	return l.ForwardToServer(proxy.PeerID, frame)
}

// ForwardToClient routes frame to the named client's scheduler.
func (l *Listener) ForwardToClient(id ident.ID, frame []byte) (ok bool, throttled bool) {
	l.mu.Lock()
	var target *ClientInfo
	for _, c := range l.clients {
		if c.ID.Equal(id) {
			target = c
			break
		}
	}
	l.mu.Unlock()
	if target == nil {
		return false, false
	}
	return true, !target.Sched.Submit(frame, true)
}

// ForwardToServers broadcasts frame to every distinct peer scheduler,
// deduplicating by scheduler pointer so two registrations sharing one
// connection only receive one copy.
func (l *Listener) ForwardToServers(frame []byte) {
	l.mu.Lock()
	seen := make(map[Sched]bool, len(l.servers))
	var targets []Sched
	for _, s := range l.servers {
		if !seen[s.Sched] {
			seen[s.Sched] = true
			targets = append(targets, s.Sched)
		}
	}
	l.mu.Unlock()

	for _, s := range targets {
		s.Submit(frame, true)
	}
}

// ForwardToClients broadcasts frame to every distinct client scheduler.
func (l *Listener) ForwardToClients(frame []byte) {
	l.mu.Lock()
	seen := make(map[Sched]bool, len(l.clients))
	var targets []Sched
	for _, c := range l.clients {
		if !seen[c.Sched] {
			seen[c.Sched] = true
			targets = append(targets, c.Sched)
		}
	}
	l.mu.Unlock()

	for _, s := range targets {
		s.Submit(frame, true)
	}
}

// ThrottleTask signals every task whose output flows through hopID to
// pause its source. hopID identifies the throttled downstream scheduler;
// tasks are matched by the sink identity their output frames are
// submitted to.
func (l *Listener) ThrottleTask(hopID Sched) {
	for _, t := range l.tasksOnHop(hopID) {
		t.Submit(task.Work{Kind: task.WorkPause})
	}
}

// ResumeTasks resumes every task paused by a prior ThrottleTask on hopID.
func (l *Listener) ResumeTasks(hopID Sched) {
	for _, t := range l.tasksOnHop(hopID) {
		t.Submit(task.Work{Kind: task.WorkResume})
	}
}

func (l *Listener) tasksOnHop(hopID Sched) []*task.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	var targets []*task.Task
	for _, t := range l.tasks {
		if hopID == nil || any(t.Sink()) == any(hopID) {
			targets = append(targets, t)
		}
	}
	return targets
}

// InputTask injects an Input work item into taskID's queue.
func (l *Listener) InputTask(taskID ident.ID, data []byte) bool {
	t := l.lookupTask(taskID)
	if t == nil {
		return false
	}
	t.Submit(task.Work{Kind: task.WorkInput, Data: data})
	return true
}

// AnswerTask injects an Answer work item into taskID's queue (response to
// a Questioning state).
func (l *Listener) AnswerTask(taskID ident.ID, answer task.AnswerKind) bool {
	t := l.lookupTask(taskID)
	if t == nil {
		return false
	}
	t.Submit(task.Work{Kind: task.WorkAnswer, Answer: answer})
	return true
}

// CancelTask injects a Close work item into taskID's queue.
func (l *Listener) CancelTask(taskID ident.ID) bool {
	t := l.lookupTask(taskID)
	if t == nil {
		return false
	}
	t.Submit(task.Work{Kind: task.WorkClose})
	return true
}

func (l *Listener) lookupTask(id ident.ID) *task.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks[id]
}

// HandleInterrupt stops all tasks, then all readers (client schedulers),
// then all terminals — in that order. It
// marks the listener interrupted so ShouldExit reflects close condition
// (a) once workers have drained.
func (l *Listener) HandleInterrupt() {
	l.mu.Lock()
	l.interrupted = true
	var tasks []*task.Task
	for _, t := range l.tasks {
		tasks = append(tasks, t)
	}
	var readers []Sched
	for _, c := range l.clients {
		readers = append(readers, c.Sched)
	}
	var terms []*TerminalInfo
	for _, term := range l.terminals {
		terms = append(terms, term)
	}
	l.mu.Unlock()

	for _, t := range tasks {
		t.Submit(task.Work{Kind: task.WorkClose})
	}
	for _, r := range readers {
		if sched, ok := r.(interface{ Stop(reason string) }); ok {
			sched.Stop("server shutdown")
		}
	}
	for _, term := range terms {
		if sched, ok := term.Sched.(interface{ Stop(reason string) }); ok {
			sched.Stop("server shutdown")
		}
	}
}

// ShouldExit reports the close conditions: either
// interrupted with nothing left registered, or standalone with no clients.
func (l *Listener) ShouldExit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.interrupted && len(l.terminals) == 0 && len(l.clients) == 0 && len(l.tasks) == 0 {
		return true
	}
	if l.standalone {
		return len(l.clients) == 0
	}
	return false
}

// PublishAttributes atomically installs a batch of server-level
// attributes. The Monitor calls this when a script chain completes
//; writes land through the trusted path, so restricted
// prefixes like "server." are writable here and protected only against
// external overwrite.
func (l *Listener) PublishAttributes(values map[string]string) {
	for k, v := range values {
		l.attrs.Install(k, v)
	}
}

// Attribute reads one server-level attribute.
func (l *Listener) Attribute(key string) (string, bool) {
	return l.attrs.Get(key)
}

// SetAttribute applies an externally-requested write to the server-level
// attribute map, honoring restriction policy. Returns false if the key is
// restricted (the old value is preserved).
func (l *Listener) SetAttribute(key, value string) bool {
	return l.attrs.Set(ident.ScopeServer, key, value, false)
}

// LogCriticalLeak logs a terminal that could not be unregistered because
// watch holders remain.
func LogCriticalLeak(terminalID ident.ID) {
	log.Printf("[listener] critical: terminal %s leaked, outstanding watch holders", terminalID)
}
