package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_runs_total",
			Help: "Total number of storyboard runs by outcome of the describe step.",
		},
		[]string{"status"},
	)
	sceneImagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_scene_images_total",
			Help: "Total number of scene image generations by outcome.",
		},
		[]string{"status"},
	)
	sceneVideosTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_scene_videos_total",
			Help: "Total number of scene video generations by outcome.",
		},
		[]string{"status"},
	)
)
