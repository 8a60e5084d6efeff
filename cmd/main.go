package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aitutor-lab/tutorchat/internal/attachment"
	"github.com/aitutor-lab/tutorchat/internal/auth"
	"github.com/aitutor-lab/tutorchat/internal/chat"
	"github.com/aitutor-lab/tutorchat/internal/client"
	"github.com/aitutor-lab/tutorchat/internal/config"
	"github.com/aitutor-lab/tutorchat/internal/store"
	"github.com/aitutor-lab/tutorchat/storage"
)

const helpText = `commands:
  /new            start a new session
  /sessions       list your sessions
  /open <n>       open session n from the list
  /delete <n>     delete session n from the list
  /attach <path>  attach an image (max 1 MiB) to the next message
  /detach         drop the staged attachment
  /quit           exit
anything else is sent to the tutor in the open session`

func main() {
	ctx := context.Background()
	godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %s", err)
	}
	setupLogger(cfg.LogLevel)

	authHandler, err := auth.NewHandler(ctx, cfg.LMSBaseURL, cfg.Email, cfg.Password)
	if err != nil {
		log.Fatalf("Failed to log in to the LMS: %s", err)
	}
	wg := authHandler.Run(ctx)
	go func() {
		defer close(authHandler.ErrorChan)
		wg.Wait()
	}()

	db, err := storage.NewSqliteDB(cfg.CacheDBPath)
	if err != nil {
		log.Fatalf("Failed to open cache db: %s", err)
	}
	sessionCache, err := storage.NewSessions(db)
	if err != nil {
		log.Fatalf("Failed to init session cache: %s", err)
	}
	pairCache, err := storage.NewPairs(db)
	if err != nil {
		log.Fatalf("Failed to init pair cache: %s", err)
	}

	ragClient := client.New(cfg.RAGBaseURL, authHandler)
	chatStore := store.New(ragClient)

	app := &app{
		ctx:          ctx,
		cfg:          cfg,
		store:        chatStore,
		sessionCache: sessionCache,
		pairCache:    pairCache,
	}

	fmt.Println(helpText)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		app.handle(line)
	}

	if err := authHandler.Logout(ctx); err != nil {
		slog.Warn("Failed to log out", "error", err)
	}
}

type app struct {
	ctx          context.Context
	cfg          *config.Config
	store        *store.Store
	sessionCache *storage.Sessions
	pairCache    *storage.Pairs

	staged   *attachment.Attachment
	lastList []chat.SessionSummary
}

func (a *app) handle(line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/new":
		a.newSession()
	case "/sessions":
		a.listSessions()
	case "/open":
		a.openSession(arg)
	case "/delete":
		a.deleteSession(arg)
	case "/attach":
		a.attach(arg)
	case "/detach":
		a.staged = nil
		fmt.Println("attachment dropped")
	case "/help":
		fmt.Println(helpText)
	default:
		a.send(line)
	}
}

func (a *app) newSession() {
	session, err := a.store.CreateSession(a.ctx, a.cfg.StudentID)
	if err != nil {
		fmt.Printf("could not start a session: %s\n", err)
		return
	}
	fmt.Printf("session %q started\n", session.Name)
}

func (a *app) listSessions() {
	summaries, err := a.store.SessionHistory(a.ctx, a.cfg.StudentID)
	if err != nil {
		// Offline or backend down: show what we cached last time.
		cached, cacheErr := a.sessionCache.ReadByStudentID(a.cfg.StudentID)
		if cacheErr != nil || len(cached) == 0 {
			fmt.Printf("could not list sessions: %s\n", err)
			return
		}
		fmt.Println("(backend unreachable, showing cached list)")
		summaries = cached
	} else if cacheErr := a.sessionCache.Replace(a.cfg.StudentID, summaries); cacheErr != nil {
		slog.Warn("Failed to refresh session cache", "error", cacheErr)
	}

	a.lastList = summaries
	if len(summaries) == 0 {
		fmt.Println("no sessions yet, use /new")
		return
	}
	for i, s := range summaries {
		fmt.Printf("%2d. %s (%d messages, %s)\n", i+1, s.Title, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func (a *app) openSession(arg string) {
	summary, ok := a.pickSession(arg)
	if !ok {
		return
	}

	detail, err := a.store.SessionDetail(a.ctx, summary.ID, a.cfg.StudentID)
	if err != nil {
		fmt.Printf("could not open session: %s\n", err)
		return
	}
	if cacheErr := a.pairCache.Replace(summary.ID, a.store.Conversation()); cacheErr != nil {
		slog.Warn("Failed to refresh pair cache", "error", cacheErr)
	}

	fmt.Printf("opened %q\n", detail.Session.Name)
	for _, pair := range a.store.Conversation() {
		printPairUser(pair.User.Content, pair.User.Image)
		fmt.Printf("tutor: %s\n", pair.Chatbot.Content)
	}
}

func (a *app) deleteSession(arg string) {
	summary, ok := a.pickSession(arg)
	if !ok {
		return
	}

	if err := a.store.DeleteSession(a.ctx, summary.ID, a.cfg.StudentID); err != nil {
		fmt.Printf("could not delete session: %s\n", err)
		return
	}

	// The store deliberately leaves selection and list state to us.
	if current := a.store.CurrentSession(); current != nil && current.ID == summary.ID {
		a.store.ClearCurrentSession()
	}
	if err := a.sessionCache.Delete(summary.ID); err != nil {
		slog.Warn("Failed to drop session from cache", "error", err)
	}
	if err := a.pairCache.DeleteBySessionID(summary.ID); err != nil {
		slog.Warn("Failed to drop pairs from cache", "error", err)
	}
	fmt.Printf("deleted %q\n", summary.Title)
}

func (a *app) attach(path string) {
	if path == "" {
		fmt.Println("usage: /attach <path>")
		return
	}
	img, err := attachment.FromFile(path)
	if err != nil {
		fmt.Printf("cannot attach: %s\n", err)
		return
	}
	a.staged = img
	fmt.Printf("attached %s (%s)\n", img.Name, attachment.FormatSize(img.Size))
}

func (a *app) send(text string) {
	current := a.store.CurrentSession()
	if current == nil {
		fmt.Println("no open session, use /new or /open first")
		return
	}

	img := a.staged
	a.staged = nil
	if err := a.store.SendMessage(a.ctx, current.ID, text, a.cfg.StudentID, img); err != nil {
		fmt.Printf("send failed: %s\n", err)
		return
	}

	conversation := a.store.Conversation()
	if len(conversation) > 0 {
		last := conversation[len(conversation)-1]
		fmt.Printf("tutor: %s\n", last.Chatbot.Content)
	}
	if cacheErr := a.pairCache.Replace(current.ID, conversation); cacheErr != nil {
		slog.Warn("Failed to refresh pair cache", "error", cacheErr)
	}
}

func (a *app) pickSession(arg string) (pick struct {
	ID    string
	Title string
}, ok bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		fmt.Println("expected a session number from /sessions")
		return pick, false
	}
	if n > len(a.lastList) {
		fmt.Printf("no session %d, run /sessions first\n", n)
		return pick, false
	}
	pick.ID = a.lastList[n-1].ID
	pick.Title = a.lastList[n-1].Title
	return pick, true
}

func printPairUser(content, image string) {
	if image != "" {
		fmt.Printf("you: %s [image: %s]\n", content, image)
		return
	}
	fmt.Printf("you: %s\n", content)
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
