// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mlnoga/darkobject/internal/dos"
	"github.com/mlnoga/darkobject/internal/ops"
	"github.com/mlnoga/darkobject/internal/ops/darkobj"
)

// Response header carrying the job id of a request
const JobIDHeader = "X-Job-ID"

// REST server for dark object subtraction jobs
type Server struct {
	Log           io.Writer // server log, receives one line per job
	MaxThreads    int
	RestrictPaths bool // accept only relative file names inside the working directory tree
}

func NewServer(logWriter io.Writer, maxThreads int) *Server {
	return &Server{Log: logWriter, MaxThreads: maxThreads, RestrictPaths: true}
}

// Returns the HTTP handler with all API routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(s.Log), gin.Recovery(), s.assignJobID)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/baselines", s.postBaselines)
			v1.POST("/subtract", s.postSubtract)
		}
	}
	return r
}

// Listens and serves on the given address until the listener fails
func (s *Server) Serve(addr string) error {
	fmt.Fprintf(s.Log, "Listening on %s\n", addr)
	return s.Router().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Assigns a fresh job id to each request
func (s *Server) assignJobID(c *gin.Context) {
	id := uuid.NewString()
	c.Set("jobID", id)
	c.Header(JobIDHeader, id)
	c.Next()
}

func jobID(c *gin.Context) string { return c.GetString("jobID") }

func (s *Server) newContext(c *gin.Context, logWriter io.Writer) *ops.Context {
	ctx := ops.NewContext(c.Request.Context(), logWriter)
	if s.MaxThreads > 0 {
		ctx.MaxThreads = s.MaxThreads
	}
	ctx.RestrictPaths = s.RestrictPaths
	return ctx
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Serializes log writes of concurrent jobs to a streamed response, flushing each line
type streamWriter struct {
	mutex sync.Mutex
	w     interface {
		io.Writer
		http.Flusher
	}
}

func (s *streamWriter) Write(p []byte) (n int, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n, err = s.w.Write(p)
	s.w.Flush()
	return n, err
}

type postBaselinesArgs struct {
	dos.Params
	FileName string `json:"fileName" binding:"required"`
}

// Estimates the baselines of one file and responds with the JSON report
func (s *Server) postBaselines(c *gin.Context) {
	args := postBaselinesArgs{Params: dos.DefaultParams()}
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fmt.Fprintf(s.Log, "Job %s: baselines of %s\n", jobID(c), args.FileName)

	// per-job log lines are discarded, the report carries all results
	ctx := s.newContext(c, io.Discard)
	outs, err := ops.NewOpLoad(0, args.FileName).MakePromises(nil, ctx)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	p, err := outs[0]()
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	res, err := dos.Estimate(ctx.Ctx, p, args.Params, ctx.Log, ctx.MaxThreads)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, darkobj.NewReport(p, res))
}

type postSubtractArgs struct {
	FilePatterns       []string                         `json:"filePatterns" binding:"required"`
	DarkObjectSubtract *darkobj.OpDarkObjectSubtraction `json:"darkObjectSubtraction" binding:"required"`
	Save               *ops.OpSave                      `json:"save"`
}

// Runs dark object subtraction on all matching files, streaming the log as plain text
func (s *Server) postSubtract(c *gin.Context) {
	var args postSubtractArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fmt.Fprintf(s.Log, "Job %s: subtract %v\n", jobID(c), args.FilePatterns)

	c.Header("Content-Type", "text/plain")
	c.Status(http.StatusOK)
	logWriter := &streamWriter{w: c.Writer}

	fmt.Fprintf(logWriter, "Job %s\n", jobID(c))
	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := s.newContext(c, logWriter)
	seq := ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), ops.NewOpForEach(args.DarkObjectSubtract))
	if args.Save != nil {
		seq.Append(ops.NewOpForEach(args.Save))
	}
	promises, err := seq.MakePromises(nil, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	if _, err := ops.MaterializeAll(promises, ctx.MaxThreads, true); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	} else {
		fmt.Fprintf(logWriter, "Done.\n")
	}
}

// Maps errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, dos.ErrConfiguration), errors.Is(err, dos.ErrEmptySelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dos.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
